package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionKind names one input of the computer tool.
type ActionKind string

const (
	ActionKey            ActionKind = "key"
	ActionType           ActionKind = "type"
	ActionMouseMove      ActionKind = "mouse_move"
	ActionLeftClick      ActionKind = "left_click"
	ActionRightClick     ActionKind = "right_click"
	ActionMiddleClick    ActionKind = "middle_click"
	ActionDoubleClick    ActionKind = "double_click"
	ActionLeftClickDrag  ActionKind = "left_click_drag"
	ActionScreenshot     ActionKind = "screenshot"
	ActionCursorPosition ActionKind = "cursor_position"
)

// ActionKinds lists every kind in the order the tool schema declares them.
var ActionKinds = []ActionKind{
	ActionKey, ActionType, ActionMouseMove, ActionLeftClick, ActionLeftClickDrag,
	ActionRightClick, ActionMiddleClick, ActionDoubleClick, ActionScreenshot, ActionCursorPosition,
}

// ErrInvalidAction is matched by every *ValidationError.
var ErrInvalidAction = errors.New("invalid action")

// ValidationError reports why an action input was rejected.
type ValidationError struct {
	Action ActionKind
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Action == "" {
		return "invalid action: " + e.Reason
	}
	return fmt.Sprintf("invalid %s action: %s", e.Action, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidAction }

// Coordinate is an (x, y) pixel position on the declared display.
// It marshals as a two-element JSON array.
type Coordinate [2]int

func (c Coordinate) X() int { return c[0] }
func (c Coordinate) Y() int { return c[1] }

// Action is the semantic input requested by the model, before HID encoding.
type Action struct {
	Action     ActionKind  `json:"action"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Text       string      `json:"text,omitempty"`
}

// ParseAction decodes and validates a tool_use input.
func ParseAction(input json.RawMessage) (Action, error) {
	var a Action
	if len(input) == 0 {
		return a, &ValidationError{Reason: "empty input"}
	}
	if err := json.Unmarshal(input, &a); err != nil {
		return a, &ValidationError{Reason: "malformed input: " + err.Error()}
	}
	return a, a.Validate()
}

// Validate checks the per-kind payload rules.
func (a Action) Validate() error {
	hasCoord := a.Coordinate != nil
	hasText := a.Text != ""

	switch a.Action {
	case ActionMouseMove, ActionLeftClickDrag:
		if !hasCoord {
			return &ValidationError{Action: a.Action, Reason: "coordinate is required"}
		}
		if hasText {
			return &ValidationError{Action: a.Action, Reason: "text is not accepted"}
		}
	case ActionKey, ActionType:
		if !hasText {
			return &ValidationError{Action: a.Action, Reason: "text is required"}
		}
		if hasCoord {
			return &ValidationError{Action: a.Action, Reason: "coordinate is not accepted"}
		}
	case ActionLeftClick, ActionRightClick, ActionMiddleClick, ActionDoubleClick:
		if hasText {
			return &ValidationError{Action: a.Action, Reason: "text is not accepted"}
		}
	case ActionScreenshot, ActionCursorPosition:
		if hasCoord || hasText {
			return &ValidationError{Action: a.Action, Reason: "takes no coordinate or text"}
		}
	case "":
		return &ValidationError{Reason: "action is required"}
	default:
		return &ValidationError{Action: a.Action, Reason: "unknown action"}
	}
	return nil
}

// String renders an action for logs.
func (a Action) String() string {
	switch {
	case a.Coordinate != nil && a.Text != "":
		return fmt.Sprintf("%s(%d,%d %q)", a.Action, a.Coordinate.X(), a.Coordinate.Y(), a.Text)
	case a.Coordinate != nil:
		return fmt.Sprintf("%s(%d,%d)", a.Action, a.Coordinate.X(), a.Coordinate.Y())
	case a.Text != "":
		return fmt.Sprintf("%s(%q)", a.Action, a.Text)
	default:
		return string(a.Action)
	}
}
