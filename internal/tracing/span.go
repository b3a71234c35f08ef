// Package tracing records model calls and tool executions as spans.
//
// Spans are buffered by a Collector, kept in a bounded ring for the
// gateway's /api/traces endpoint and, when an exporter is attached, shipped
// to an external backend (see tracing/otelexport).
package tracing

import (
	"time"

	"github.com/google/uuid"
)

const (
	SpanTypeRun      = "agent_run"
	SpanTypeLLMCall  = "llm_call"
	SpanTypeToolCall = "tool_call"

	StatusCompleted = "completed"
	StatusError     = "error"
)

// SpanData is one finished unit of work.
type SpanData struct {
	ID           uuid.UUID  `json:"id"`
	TraceID      uuid.UUID  `json:"trace_id"`
	ParentSpanID *uuid.UUID `json:"parent_span_id,omitempty"`
	SpanType     string     `json:"span_type"`
	Name         string     `json:"name"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	DurationMS   int        `json:"duration_ms"`

	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`

	ToolName      string `json:"tool_name,omitempty"`
	ToolCallID    string `json:"tool_call_id,omitempty"`
	InputPreview  string `json:"input_preview,omitempty"`
	OutputPreview string `json:"output_preview,omitempty"`

	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Finish sets the end time, duration and status of a span started at s.StartTime.
func (s *SpanData) Finish(end time.Time, err error) {
	end = end.UTC()
	s.EndTime = &end
	s.DurationMS = int(end.Sub(s.StartTime).Milliseconds())
	s.Status = StatusCompleted
	if err != nil {
		s.Status = StatusError
		s.Error = TruncatePreview(err.Error())
	}
}
