package cmd

import (
	"github.com/charmbracelet/huh"
)

// filterThreshold enables type-to-filter on selects longer than this.
const filterThreshold = 5

// SelectOption is one choice in a select prompt.
type SelectOption[T any] struct {
	Label string
	Value T
}

func runField(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).WithShowHelp(true).Run()
}

// promptString asks for text. Enter on an empty input returns defaultVal.
// validate may be nil.
func promptString(title, description, defaultVal string, validate func(string) error) (string, error) {
	var value string
	inp := huh.NewInput().Title(title).Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if defaultVal != "" {
		inp = inp.Placeholder(defaultVal)
	}
	if validate != nil {
		inp = inp.Validate(func(s string) error {
			if s == "" && defaultVal != "" {
				return nil
			}
			return validate(s)
		})
	}
	if err := runField(inp); err != nil {
		return "", err
	}
	if value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// promptPassword asks for a secret without echoing it.
func promptPassword(title, description string) (string, error) {
	var value string
	inp := huh.NewInput().Title(title).EchoMode(huh.EchoModePassword).Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if err := runField(inp); err != nil {
		return "", err
	}
	return value, nil
}

// promptSelect shows a single-choice list and returns the chosen value.
func promptSelect[T comparable](title string, options []SelectOption[T], defaultIdx int) (T, error) {
	var value T
	opts := make([]huh.Option[T], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value)
	}
	if defaultIdx >= 0 && defaultIdx < len(opts) {
		opts[defaultIdx] = opts[defaultIdx].Selected(true)
	}
	sel := huh.NewSelect[T]().Title(title).Options(opts...).Value(&value)
	if len(options) > filterThreshold {
		sel = sel.Filtering(true)
	}
	if err := runField(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptConfirm asks a yes/no question.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes
	c := huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&value)
	if err := runField(c); err != nil {
		return false, err
	}
	return value, nil
}
