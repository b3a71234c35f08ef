package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/internal/screen"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/hid"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// ComputerToolName is the name the model addresses the tool by.
const ComputerToolName = "computer"

// ErrUnsupportedAction is matched by the Err of results for actions the
// device cannot perform.
var ErrUnsupportedAction = errors.New("action not supported")

// FrameSender delivers HID frames in order. *device.Link satisfies it.
type FrameSender interface {
	SendFrame(f hid.Frame) error
}

// Display is the screen geometry declared to the model. Coordinates in
// actions are pixels on this display.
type Display struct {
	Width  int
	Height int
	Number int
}

// DefaultDisplay matches the resolution the computer-use models are tuned for.
var DefaultDisplay = Display{Width: 1024, Height: 768, Number: 1}

// ComputerTool executes computer actions against the device. Only one
// action runs at a time; a started action always plays to the end so no
// key or button is left pressed.
type ComputerTool struct {
	link    FrameSender
	screen  screen.Source
	display Display
	sleep   func(time.Duration)

	mu sync.Mutex
}

func NewComputerTool(link FrameSender, src screen.Source, display Display) *ComputerTool {
	if display.Width <= 0 || display.Height <= 0 {
		display = DefaultDisplay
	}
	return &ComputerTool{
		link:    link,
		screen:  src,
		display: display,
		sleep:   time.Sleep,
	}
}

// SetSleeper replaces time.Sleep for the inter-frame delays.
func (t *ComputerTool) SetSleeper(fn func(time.Duration)) { t.sleep = fn }

// Display returns the declared display.
func (t *ComputerTool) Display() Display { return t.display }

func (t *ComputerTool) Name() string { return ComputerToolName }

func (t *ComputerTool) Description() string {
	return fmt.Sprintf("Use a mouse and keyboard to interact with a computer, and take screenshots. "+
		"The screen is %dx%d pixels; coordinates are [x, y] from the top-left corner.",
		t.display.Width, t.display.Height)
}

func (t *ComputerTool) Parameters() map[string]interface{} {
	kinds := make([]interface{}, len(protocol.ActionKinds))
	for i, k := range protocol.ActionKinds {
		kinds[i] = string(k)
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        kinds,
				"description": "The action to perform.",
			},
			"coordinate": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "integer"},
				"minItems":    2,
				"maxItems":    2,
				"description": "[x, y] pixel position. Required for mouse_move and left_click_drag.",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text to type, or the key (chord) to press. Required for type and key.",
			},
		},
		"required": []interface{}{"action"},
	}
}

// Definition declares the native computer tool.
func (t *ComputerTool) Definition() providers.ToolDefinition {
	return providers.ComputerToolDefinition(t.Name(), t.display.Width, t.display.Height, t.display.Number)
}

func (t *ComputerTool) Execute(ctx context.Context, call protocol.ToolCall) *Result {
	action, err := call.Action()
	if err != nil {
		slog.Warn("computer: invalid action", "tool_use_id", call.ID, "error", err)
		return ErrorResult(err.Error()).WithError(err)
	}
	return t.Do(ctx, action)
}

// Do performs one validated action. Cancellation is honored only before
// the first frame is sent.
func (t *ComputerTool) Do(ctx context.Context, a protocol.Action) *Result {
	if err := a.Validate(); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if err := ctx.Err(); err != nil {
		return ErrorResult("action canceled before it started").WithError(err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ErrorResult("action canceled before it started").WithError(err)
	}
	if a.Action == protocol.ActionScreenshot {
		return t.screenshot(ctx)
	}

	steps, res := t.plan(a)
	if res != nil {
		return res
	}

	start := time.Now()
	if err := t.play(steps); err != nil {
		slog.Warn("computer: device send failed", "action", a.String(), "error", err)
		return ErrorResult(err.Error()).WithError(err)
	}
	slog.Debug("computer action done",
		"action", a.String(),
		"frames", len(steps),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return NewResult()
}

func (t *ComputerTool) screenshot(ctx context.Context) *Result {
	if t.screen == nil {
		return ErrorResult(screen.ErrUnavailable.Error()).WithError(screen.ErrUnavailable)
	}
	frame, err := t.screen.Capture(ctx)
	if err != nil {
		slog.Warn("computer: screenshot failed", "error", err)
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(frame.Part())
}

// plan encodes an action into its step sequence, or returns the error
// result when the action cannot be carried out.
func (t *ComputerTool) plan(a protocol.Action) ([]hid.Step, *Result) {
	switch a.Action {
	case protocol.ActionMouseMove:
		return t.moveSteps(*a.Coordinate)

	case protocol.ActionLeftClick, protocol.ActionDoubleClick:
		var steps []hid.Step
		if a.Coordinate != nil {
			move, res := t.moveSteps(*a.Coordinate)
			if res != nil {
				return nil, res
			}
			steps = append(steps, move...)
		}
		if a.Action == protocol.ActionDoubleClick {
			return append(steps, hid.DoubleClickSteps(hid.ButtonLeft)...), nil
		}
		return append(steps, hid.ClickSteps(hid.ButtonLeft)...), nil

	case protocol.ActionKey:
		down, up, err := hid.EncodeKeyCombo(a.Text)
		if err != nil {
			slog.Warn("computer: unknown key", "key", a.Text, "error", err)
			return nil, ErrorResult(err.Error()).WithError(err)
		}
		return hid.KeyPressSteps(hid.KeyPair{Down: down, Up: up}), nil

	case protocol.ActionType:
		pairs, skipped := hid.EncodeTypeString(a.Text)
		if len(skipped) > 0 {
			slog.Warn("computer: characters without a key mapping skipped",
				"skipped", string(skipped),
				"typed", len(pairs),
			)
		}
		return hid.TypeSteps(pairs), nil

	default:
		err := fmt.Errorf("%w: %s", ErrUnsupportedAction, a.Action)
		return nil, ErrorResult(fmt.Sprintf("%s: action not supported", a.Action)).WithError(err)
	}
}

func (t *ComputerTool) moveSteps(c protocol.Coordinate) ([]hid.Step, *Result) {
	move, err := hid.EncodeMouseMove(c.X(), c.Y(), t.display.Width, t.display.Height)
	if err != nil {
		return nil, ErrorResult(err.Error()).WithError(err)
	}
	return hid.MoveSteps(move), nil
}

// play sends each frame and waits its minimum delay, including after the
// last one, so the next action starts on a settled device.
func (t *ComputerTool) play(steps []hid.Step) error {
	if t.link == nil && len(steps) > 0 {
		return errors.New("no device link")
	}
	for i, s := range steps {
		if err := t.link.SendFrame(s.Frame); err != nil {
			return fmt.Errorf("frame %d/%d (%s): %w", i+1, len(steps), hid.Describe(s.Frame), err)
		}
		t.sleep(s.Wait)
	}
	return nil
}
