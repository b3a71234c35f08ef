package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
)

func onboardCmd() *cobra.Command {
	var nonInteractive bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Setup wizard: device URL, display, API key, model, gateway token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nonInteractive || canAutoOnboard() {
				return runAutoOnboard(resolveConfigPath())
			}
			return runOnboard(resolveConfigPath())
		},
	}
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "write config from "+config.EnvKVMURL+" and "+config.EnvAPIKey+" without prompting")
	return cmd
}

var displayPresets = []SelectOption[[2]int]{
	{Label: "1024 x 768 (recommended for computer use)", Value: [2]int{1024, 768}},
	{Label: "1280 x 720", Value: [2]int{1280, 720}},
	{Label: "1280 x 800", Value: [2]int{1280, 800}},
	{Label: "1920 x 1080", Value: [2]int{1920, 1080}},
}

var modelChoices = []SelectOption[string]{
	{Label: "claude-3-5-sonnet-20241022", Value: "claude-3-5-sonnet-20241022"},
	{Label: "claude-3-7-sonnet-20250219", Value: "claude-3-7-sonnet-20250219"},
	{Label: "claude-sonnet-4-20250514", Value: "claude-sonnet-4-20250514"},
}

// canAutoOnboard reports whether the environment already names the device
// and the key, in which case no prompts are needed.
func canAutoOnboard() bool {
	return os.Getenv(config.EnvKVMURL) != "" && os.Getenv(config.EnvAPIKey) != ""
}

func runAutoOnboard(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.KVM.URL == "" {
		return fmt.Errorf("%s is not set", config.EnvKVMURL)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	// The key stays in the environment; never write it to disk.
	cfg.StripSecrets()
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Printf("Config written to %s (API key read from %s at runtime).\n", cfgPath, config.EnvAPIKey)
	return nil
}

func runOnboard(cfgPath string) error {
	fmt.Println(titleStyle.Render("kvmagent setup"))
	fmt.Println()

	cfg := config.Default()
	if _, err := os.Stat(cfgPath); err == nil {
		useExisting, err := promptConfirm("Found "+cfgPath+". Use it as a base?", true)
		if err != nil {
			return err
		}
		if useExisting {
			if cfg, err = config.Load(cfgPath); err != nil {
				return err
			}
		}
	}

	kvmURL, err := promptString("NanoKVM address", "IP, hostname or URL of the device", cfg.KVM.URL, validateKVMURL)
	if err != nil {
		return err
	}
	cfg.KVM.URL = config.NormalizeKVMURL(kvmURL)

	size, err := promptSelect("Display size declared to the model", displayPresets, presetIndex(cfg))
	if err != nil {
		return err
	}
	cfg.Display.Width, cfg.Display.Height = size[0], size[1]

	if err := onboardAPIKey(cfg); err != nil {
		return err
	}

	model, err := promptSelect("Model", modelChoices, modelIndex(cfg.Model.Name))
	if err != nil {
		return err
	}
	cfg.Model.Name = model

	if cfg.Gateway.Token == "" {
		gen, err := promptConfirm("Generate a bearer token for the gateway API?", true)
		if err != nil {
			return err
		}
		if gen {
			cfg.Gateway.Token = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", cfgPath)
	checkTCP(cfg.KVM.URL)
	fmt.Println()
	fmt.Println("Next: kvmagent chat    or    kvmagent serve")
	return nil
}

// onboardAPIKey stores the key in the OS keyring. On hosts without one the
// key is kept in the config file, which Save creates 0600.
func onboardAPIKey(cfg *config.Config) error {
	if os.Getenv(config.EnvAPIKey) != "" {
		fmt.Println(dimStyle.Render("Using API key from " + config.EnvAPIKey + "."))
		cfg.StripSecrets()
		return nil
	}
	desc := "Stored in the OS keyring"
	if cfg.Model.APIKey != "" {
		desc += "; leave empty to keep " + config.MaskSecret(cfg.Model.APIKey)
	}
	key, err := promptPassword("Anthropic API key", desc)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		if cfg.Model.APIKey == "" {
			return errors.New("an API key is required")
		}
		key = cfg.Model.APIKey
	}
	if err := config.StoreAPIKey(key); err != nil {
		fmt.Println(errorStyle.Render("Keyring unavailable (" + err.Error() + "); saving the key in the config file."))
		cfg.Model.APIKey = key
		return nil
	}
	cfg.StripSecrets()
	return nil
}

func validateKVMURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("required")
	}
	u, err := url.Parse(config.NormalizeKVMURL(s))
	if err != nil {
		return err
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func presetIndex(cfg *config.Config) int {
	for i, p := range displayPresets {
		if p.Value[0] == cfg.Display.Width && p.Value[1] == cfg.Display.Height {
			return i
		}
	}
	return 0
}

func modelIndex(name string) int {
	for i, m := range modelChoices {
		if m.Value == name {
			return i
		}
	}
	return 0
}
