package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// startTrace attaches a fresh trace and root span to ctx when a collector is configured.
func (l *Loop) startTrace(ctx context.Context) (context.Context, uuid.UUID) {
	if l.collector == nil {
		return ctx, uuid.Nil
	}
	rootID := uuid.New()
	ctx = tracing.WithCollector(ctx, l.collector)
	ctx = tracing.WithTraceID(ctx, uuid.New())
	ctx = tracing.WithParentSpanID(ctx, rootID)
	return ctx, rootID
}

func (l *Loop) providerName() string {
	if l.provider == nil {
		return ""
	}
	return l.provider.Name()
}

func newSpan(ctx context.Context, spanType, name string, start time.Time) (*tracing.Collector, tracing.SpanData, bool) {
	collector := tracing.CollectorFromContext(ctx)
	traceID := tracing.TraceIDFromContext(ctx)
	if collector == nil || traceID == uuid.Nil {
		return nil, tracing.SpanData{}, false
	}
	span := tracing.SpanData{
		TraceID:   traceID,
		SpanType:  spanType,
		Name:      name,
		StartTime: start.UTC(),
	}
	if parentID := tracing.ParentSpanIDFromContext(ctx); parentID != uuid.Nil {
		span.ParentSpanID = &parentID
	}
	return collector, span, true
}

// emitRunSpan records the root span parenting every model and tool span of a run.
func (l *Loop) emitRunSpan(ctx context.Context, rootID uuid.UUID, start time.Time, res *RunResult) {
	collector, span, ok := newSpan(ctx, tracing.SpanTypeRun, "run:"+res.RunID, start)
	if !ok {
		return
	}
	span.ID = rootID
	span.ParentSpanID = nil
	span.Model = l.Model()
	span.Provider = l.providerName()
	span.InputTokens = res.Usage.InputTokens
	span.OutputTokens = res.Usage.OutputTokens
	span.OutputPreview = res.Text
	span.Finish(time.Now(), res.Err)
	collector.EmitSpan(span)
}

func (l *Loop) emitLLMSpan(ctx context.Context, start time.Time, req providers.ChatRequest, resp *providers.ChatResponse, err error) {
	collector, span, ok := newSpan(ctx, tracing.SpanTypeLLMCall, fmt.Sprintf("%s/%s", l.providerName(), req.Model), start)
	if !ok {
		return
	}
	span.Model = req.Model
	span.Provider = l.providerName()
	if collector.Verbose() {
		if data, mErr := json.Marshal(req.Messages); mErr == nil {
			span.InputPreview = string(data)
		}
	} else if n := len(req.Messages); n > 0 {
		span.InputPreview = req.Messages[n-1].Content.PlainText()
	}
	if resp != nil {
		span.InputTokens = resp.Usage.InputTokens
		span.OutputTokens = resp.Usage.OutputTokens
		span.FinishReason = resp.StopReason
		span.OutputPreview = resp.Text()
	}
	span.Finish(time.Now(), err)
	collector.EmitSpan(span)
}

func (l *Loop) emitToolSpan(ctx context.Context, start time.Time, call protocol.ToolCall, result protocol.ContentBlock) {
	collector, span, ok := newSpan(ctx, tracing.SpanTypeToolCall, "tool/"+call.Name, start)
	if !ok {
		return
	}
	span.ToolName = call.Name
	span.ToolCallID = call.ID
	span.InputPreview = string(call.Input)
	span.OutputPreview = resultPreview(result)

	var err error
	if result.IsError {
		err = errors.New(span.OutputPreview)
	}
	span.Finish(time.Now(), err)
	collector.EmitSpan(span)
}

// resultPreview renders a tool_result without its image payloads.
func resultPreview(b protocol.ContentBlock) string {
	var out string
	for _, p := range b.Content {
		var s string
		switch p.Type {
		case protocol.PartText:
			s = p.Text
		case protocol.PartImage:
			s = "[image]"
		}
		if out != "" {
			out += "\n"
		}
		out += s
	}
	return out
}
