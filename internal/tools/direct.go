package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chunlea/computer-use-with-nanokvm/internal/screen"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// DirectActions drives the computer tool without the model, for the hid
// commands and the chat REPL.
type DirectActions struct {
	tool *ComputerTool
}

func NewDirectActions(tool *ComputerTool) *DirectActions {
	return &DirectActions{tool: tool}
}

// Run performs a and converts an error result into a Go error.
func (d *DirectActions) Run(ctx context.Context, a protocol.Action) (*Result, error) {
	res := d.tool.Do(ctx, a)
	if res.IsError {
		if res.Err != nil {
			return res, res.Err
		}
		return res, errors.New(res.Text())
	}
	return res, nil
}

// Screenshot captures the current frame through the tool's source.
func (d *DirectActions) Screenshot(ctx context.Context) (*screen.Frame, error) {
	if d.tool.screen == nil {
		return nil, screen.ErrUnavailable
	}
	return d.tool.screen.Capture(ctx)
}

// ParseCommand turns a short command line into an action:
//
//	move X Y | click [X Y] | double [X Y] | key NAME | type TEXT... | screenshot
func ParseCommand(args []string) (protocol.Action, error) {
	if len(args) == 0 {
		return protocol.Action{}, fmt.Errorf("missing command")
	}
	cmd, rest := strings.ToLower(args[0]), args[1:]

	var a protocol.Action
	switch cmd {
	case "move", "mouse_move":
		a.Action = protocol.ActionMouseMove
	case "click", "left_click":
		a.Action = protocol.ActionLeftClick
	case "double", "double_click":
		a.Action = protocol.ActionDoubleClick
	case "key":
		a.Action = protocol.ActionKey
	case "type":
		a.Action = protocol.ActionType
	case "screenshot":
		a.Action = protocol.ActionScreenshot
	default:
		a.Action = protocol.ActionKind(cmd)
	}

	switch a.Action {
	case protocol.ActionMouseMove, protocol.ActionLeftClick, protocol.ActionDoubleClick:
		if len(rest) == 0 && a.Action != protocol.ActionMouseMove {
			break
		}
		if len(rest) != 2 {
			return a, fmt.Errorf("%s: expected X Y", cmd)
		}
		x, errX := strconv.Atoi(rest[0])
		y, errY := strconv.Atoi(rest[1])
		if errX != nil || errY != nil {
			return a, fmt.Errorf("%s: coordinates must be integers", cmd)
		}
		a.Coordinate = &protocol.Coordinate{x, y}
	case protocol.ActionKey:
		if len(rest) != 1 {
			return a, fmt.Errorf("key: expected one key name")
		}
		a.Text = rest[0]
	case protocol.ActionType:
		a.Text = strings.Join(rest, " ")
	}

	return a, a.Validate()
}
