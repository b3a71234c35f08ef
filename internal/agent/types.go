package agent

import (
	"context"

	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// Agent is the conversational loop driving the computer tool.
// Implemented by *Loop; extracted as an interface for the gateway and REPL.
type Agent interface {
	Submit(ctx context.Context, content protocol.Content) (*RunResult, error)
	State() State
	Reset() error
	Snapshot() []Turn
	Model() string
}

// ToolExecutor runs model-requested tool calls. *tools.Registry implements it.
type ToolExecutor interface {
	Execute(ctx context.Context, call protocol.ToolCall) protocol.ContentBlock
	ProviderDefs() []providers.ToolDefinition
}

// State of the loop. Exactly one state at any time.
type State int32

const (
	StateIdle State = iota
	StateAwaitingModel
	StateExecutingTool
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTool:
		return "executing_tool"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// RunResult summarizes one Submit.
type RunResult struct {
	RunID      string          `json:"run_id"`
	Turns      []Turn          `json:"turns"` // turns appended by this run, user input first
	Text       string          `json:"text"`  // final assistant text
	ToolRounds int             `json:"tool_rounds"`
	Usage      providers.Usage `json:"usage"`

	// Err is the model failure that ended the run with an apology turn.
	Err error `json:"-"`
}

// Failed reports whether the run ended with an apology.
func (r *RunResult) Failed() bool { return r.Err != nil }

// Event is the payload of protocol.EventAgent bus events.
type Event struct {
	Type    string             `json:"type"`
	RunID   string             `json:"run_id"`
	State   State              `json:"state"`
	Turn    *Turn              `json:"turn,omitempty"`
	Tool    *protocol.ToolCall `json:"tool,omitempty"`
	IsError bool               `json:"is_error,omitempty"`
	Error   string             `json:"error,omitempty"`
}
