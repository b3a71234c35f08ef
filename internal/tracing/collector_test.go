package tracing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeExporter struct {
	mu       sync.Mutex
	spans    []SpanData
	shutdown bool
}

func (f *fakeExporter) ExportSpans(_ context.Context, spans []SpanData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, spans...)
}

func (f *fakeExporter) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

func TestCollector_RecentRing(t *testing.T) {
	c := NewCollector(3)
	for _, name := range []string{"a", "b", "c", "d"} {
		c.EmitSpan(SpanData{Name: name, SpanType: SpanTypeToolCall})
	}

	got := c.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(got))
	}
	for i, want := range []string{"b", "c", "d"} {
		if got[i].Name != want {
			t.Errorf("span %d = %q, want %q", i, got[i].Name, want)
		}
		if got[i].ID == uuid.Nil {
			t.Errorf("span %d: expected generated ID", i)
		}
	}

	if last := c.Recent(1); len(last) != 1 || last[0].Name != "d" {
		t.Errorf("Recent(1) = %+v", last)
	}
}

func TestCollector_Trace(t *testing.T) {
	c := NewCollector(10)
	traceID := uuid.New()
	c.EmitSpan(SpanData{Name: "model", TraceID: traceID})
	c.EmitSpan(SpanData{Name: "other", TraceID: uuid.New()})
	c.EmitSpan(SpanData{Name: "tool", TraceID: traceID})

	spans := c.Trace(traceID)
	if len(spans) != 2 || spans[0].Name != "model" || spans[1].Name != "tool" {
		t.Errorf("unexpected trace spans: %+v", spans)
	}
}

func TestCollector_StopFlushesToExporter(t *testing.T) {
	exp := &fakeExporter{}
	c := NewCollector(10)
	c.SetExporter(exp)
	c.Start()

	c.EmitSpan(SpanData{Name: "llm", SpanType: SpanTypeLLMCall})
	c.EmitSpan(SpanData{Name: "tool", SpanType: SpanTypeToolCall})
	c.Stop()
	c.Stop()

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if len(exp.spans) != 2 {
		t.Errorf("expected 2 exported spans, got %d", len(exp.spans))
	}
	if !exp.shutdown {
		t.Error("expected exporter shutdown")
	}
}

func TestSpanData_Finish(t *testing.T) {
	start := time.Now()
	s := SpanData{StartTime: start}
	s.Finish(start.Add(250*time.Millisecond), nil)
	if s.Status != StatusCompleted || s.DurationMS != 250 || s.EndTime == nil {
		t.Errorf("unexpected finished span: %+v", s)
	}

	s.Finish(start.Add(time.Second), errors.New("boom"))
	if s.Status != StatusError || s.Error != "boom" {
		t.Errorf("expected error status, got %+v", s)
	}
}

func TestTruncatePreview(t *testing.T) {
	if got := TruncatePreview("short"); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("é", 400) // 800 bytes
	got := TruncatePreview(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix")
	}
	if len(got) > previewMaxLen+3 {
		t.Errorf("preview too long: %d", len(got))
	}
	if strings.ContainsRune(strings.TrimSuffix(got, "..."), '�') {
		t.Error("preview split a rune")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if CollectorFromContext(ctx) != nil || TraceIDFromContext(ctx) != uuid.Nil {
		t.Fatal("expected empty context values")
	}
	c := NewCollector(1)
	id, parent := uuid.New(), uuid.New()
	ctx = WithParentSpanID(WithTraceID(WithCollector(ctx, c), id), parent)
	if CollectorFromContext(ctx) != c || TraceIDFromContext(ctx) != id || ParentSpanIDFromContext(ctx) != parent {
		t.Error("context round trip failed")
	}
}
