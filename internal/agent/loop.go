package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chunlea/computer-use-with-nanokvm/internal/bus"
	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tools"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const (
	DefaultMaxToolRounds = 25
	DefaultMaxTokens     = 1024
)

// LoopConfig configures a Loop.
type LoopConfig struct {
	ID        string // session key; tool rate limits apply per ID
	Provider  providers.Provider
	Model     string // defaults to the provider's default model
	MaxTokens int
	System    string
	Tools     ToolExecutor

	// MaxToolRounds bounds tool executions per Submit (default 25).
	MaxToolRounds int
	// KeepScreenshots limits how many recent screenshots are resent to
	// the model. 0 resends all of them.
	KeepScreenshots int

	Bus     bus.Publisher
	Tracing *tracing.Collector

	InputGuard      *InputGuard
	InjectionAction string // "log", "warn" (default), "block", "off"
}

// Loop is the agent state machine: Idle -> AwaitingModel -> (Idle |
// ExecutingTool -> AwaitingModel). At most one model call is in flight.
type Loop struct {
	id        string
	provider  providers.Provider
	tools     ToolExecutor
	bus       bus.Publisher
	collector *tracing.Collector

	inputGuard      *InputGuard
	injectionAction string

	conv  *Conversation
	state atomic.Int32

	mu              sync.Mutex
	model           string
	maxTokens       int
	system          string
	maxToolRounds   int
	keepScreenshots int
	done            chan struct{} // closed when the current run ends; nil when idle
}

var _ Agent = (*Loop)(nil)

func NewLoop(cfg LoopConfig) *Loop {
	l := &Loop{
		id:              cfg.ID,
		provider:        cfg.Provider,
		tools:           cfg.Tools,
		bus:             cfg.Bus,
		collector:       cfg.Tracing,
		injectionAction: normalizeInjectionAction(cfg.InjectionAction),
		conv:            NewConversation(),
		system:          cfg.System,
		keepScreenshots: cfg.KeepScreenshots,
	}
	if l.injectionAction != InjectionOff {
		l.inputGuard = cfg.InputGuard
		if l.inputGuard == nil {
			l.inputGuard = NewInputGuard()
		}
	}
	l.SetModel(cfg.Model)
	l.SetMaxTokens(cfg.MaxTokens)
	l.SetMaxToolRounds(cfg.MaxToolRounds)
	return l
}

func (l *Loop) ID() string { return l.id }

func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) Conversation() *Conversation { return l.conv }

func (l *Loop) Snapshot() []Turn { return l.conv.Snapshot() }

func (l *Loop) Model() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.model
}

// SetModel changes the model for subsequent calls. Empty selects the provider default.
func (l *Loop) SetModel(model string) {
	if model == "" && l.provider != nil {
		model = l.provider.DefaultModel()
	}
	l.mu.Lock()
	l.model = model
	l.mu.Unlock()
}

func (l *Loop) SetMaxTokens(n int) {
	if n <= 0 {
		n = DefaultMaxTokens
	}
	l.mu.Lock()
	l.maxTokens = n
	l.mu.Unlock()
}

func (l *Loop) SetMaxToolRounds(n int) {
	if n <= 0 {
		n = DefaultMaxToolRounds
	}
	l.mu.Lock()
	l.maxToolRounds = n
	l.mu.Unlock()
}

func (l *Loop) SetKeepScreenshots(n int) {
	l.mu.Lock()
	l.keepScreenshots = n
	l.mu.Unlock()
}

// Reset clears the conversation. Fails with ErrBusy while a run is in flight.
func (l *Loop) Reset() error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateAwaitingModel)) {
		return ErrBusy
	}
	l.conv.Clear()
	l.state.Store(int32(StateIdle))
	slog.Info("agent: conversation reset", "session", l.id)
	return nil
}

// WaitIdle blocks until no run is in flight or ctx is done.
func (l *Loop) WaitIdle(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitText submits a plain text user message.
func (l *Loop) SubmitText(ctx context.Context, text string) (*RunResult, error) {
	return l.Submit(ctx, protocol.TextContent(text))
}

// Submit appends a user turn and runs the model/tool loop until the model
// answers with text, fails, or MaxToolRounds is exhausted. Model failures
// end the run with an apology turn and are reported on RunResult.Err; the
// returned error is only ErrBusy or ErrInputBlocked, and in both cases the
// conversation is untouched.
func (l *Loop) Submit(ctx context.Context, content protocol.Content) (*RunResult, error) {
	// The state flip and the done channel publish together so WaitIdle
	// never observes a busy loop without something to wait on.
	done := make(chan struct{})
	l.mu.Lock()
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateAwaitingModel)) {
		l.mu.Unlock()
		return nil, ErrBusy
	}
	l.done = done
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.done = nil
		l.setState(StateIdle)
		l.mu.Unlock()
		close(done)
	}()

	if err := l.checkInput(content.PlainText()); err != nil {
		return nil, err
	}

	res := &RunResult{RunID: uuid.NewString()}
	start := time.Now()
	first := l.conv.Len()

	ctx, rootSpan := l.startTrace(ctx)
	ctx = tools.WithToolSessionKey(ctx, l.id)
	ctx = tools.WithToolRunID(ctx, res.RunID)

	slog.Info("agent: run started", "session", l.id, "run_id", res.RunID)
	l.emit(Event{Type: protocol.AgentEventRunStarted, RunID: res.RunID})
	l.appendTurn(res.RunID, Turn{Role: providers.RoleUser, Content: content})

	l.run(ctx, res)

	res.Turns = l.conv.Since(first)
	l.emitRunSpan(ctx, rootSpan, start, res)

	if res.Err != nil {
		slog.Warn("agent: run failed", "session", l.id, "run_id", res.RunID, "error", res.Err)
		l.emit(Event{Type: protocol.AgentEventRunFailed, RunID: res.RunID, Error: res.Err.Error()})
	} else {
		slog.Info("agent: run completed",
			"session", l.id,
			"run_id", res.RunID,
			"tool_rounds", res.ToolRounds,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		l.emit(Event{Type: protocol.AgentEventRunCompleted, RunID: res.RunID})
	}
	return res, nil
}

func (l *Loop) run(ctx context.Context, res *RunResult) {
	l.mu.Lock()
	maxRounds := l.maxToolRounds
	l.mu.Unlock()

	for {
		resp, err := l.callModel(ctx)
		if err != nil {
			res.Err = err
			res.Text = apology(err)
			l.appendTurn(res.RunID, Turn{Role: providers.RoleAssistant, Content: protocol.TextContent(res.Text)})
			return
		}
		res.Usage.InputTokens += resp.Usage.InputTokens
		res.Usage.OutputTokens += resp.Usage.OutputTokens

		call, extra, ok := resp.ToolUse()
		text := resp.Text()
		if !ok {
			if strings.TrimSpace(text) == "" {
				slog.Warn("agent: model returned an empty reply", "run_id", res.RunID, "stop_reason", resp.StopReason)
				text = EmptyReplyText
			}
			res.Text = text
			l.appendTurn(res.RunID, Turn{Role: providers.RoleAssistant, Content: protocol.TextContent(text)})
			return
		}
		if extra > 0 {
			slog.Warn("agent: model requested several tool calls, running the first",
				"run_id", res.RunID, "tool_use_id", call.ID, "ignored", extra)
		}
		if res.ToolRounds >= maxRounds {
			res.Text = fmt.Sprintf("Stopped after %d tool actions without a final answer.", maxRounds)
			slog.Warn("agent: tool round limit reached", "run_id", res.RunID, "max_tool_rounds", maxRounds)
			l.appendTurn(res.RunID, Turn{Role: providers.RoleAssistant, Content: protocol.TextContent(res.Text)})
			return
		}

		l.appendTurn(res.RunID, Turn{Role: providers.RoleAssistant, Content: protocol.TextContent(text), ToolCall: &call})
		result := l.executeTool(ctx, res.RunID, call)
		l.appendTurn(res.RunID, Turn{Role: providers.RoleUser, Content: protocol.BlockContent(result)})
		res.ToolRounds++
		l.setState(StateAwaitingModel)
	}
}

func (l *Loop) callModel(ctx context.Context) (*providers.ChatResponse, error) {
	l.mu.Lock()
	req := providers.ChatRequest{
		Model:     l.model,
		MaxTokens: l.maxTokens,
		System:    l.system,
	}
	keep := l.keepScreenshots
	l.mu.Unlock()

	if l.provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", providers.ErrModelBoundary)
	}
	req.Messages = pruneScreenshots(l.conv.Messages(), keep)
	if l.tools != nil {
		req.Tools = l.tools.ProviderDefs()
	}

	start := time.Now()
	resp, err := l.provider.Chat(ctx, req)
	l.emitLLMSpan(ctx, start, req, resp, err)
	if err != nil {
		return nil, err
	}
	slog.Debug("agent: model replied",
		"model", req.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (l *Loop) executeTool(ctx context.Context, runID string, call protocol.ToolCall) protocol.ContentBlock {
	l.setState(StateExecutingTool)
	l.emit(Event{Type: protocol.AgentEventToolCall, RunID: runID, Tool: &call})

	start := time.Now()
	var result protocol.ContentBlock
	if l.tools == nil {
		result = tools.ErrorResult("no tools available").ToolResultBlock(call.ID)
	} else {
		result = l.tools.Execute(ctx, call)
	}
	l.emitToolSpan(ctx, start, call, result)

	l.emit(Event{Type: protocol.AgentEventToolResult, RunID: runID, Tool: &call, IsError: result.IsError})
	return result
}

func (l *Loop) checkInput(text string) error {
	if l.inputGuard == nil {
		return nil
	}
	matches := l.inputGuard.Scan(text)
	if len(matches) == 0 {
		return nil
	}
	switch l.injectionAction {
	case InjectionBlock:
		slog.Warn("security.injection_blocked", "session", l.id, "patterns", matches)
		return ErrInputBlocked
	case InjectionLog:
		slog.Info("security.injection_detected", "session", l.id, "patterns", matches)
	default:
		slog.Warn("security.injection_detected", "session", l.id, "patterns", matches)
	}
	return nil
}

func (l *Loop) appendTurn(runID string, t Turn) {
	_, t = l.conv.Append(t)
	l.emit(Event{Type: protocol.AgentEventTurnAppended, RunID: runID, Turn: &t})
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

func (l *Loop) emit(ev Event) {
	if l.bus == nil {
		return
	}
	ev.State = l.State()
	l.bus.Broadcast(bus.Event{Name: protocol.EventAgent, Payload: ev})
}
