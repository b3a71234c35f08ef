package tracing

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1000
	defaultRecentSize    = 200
	previewMaxLen        = 500
)

// SpanExporter is implemented by backends that receive finished spans
// (e.g. OpenTelemetry OTLP). Keeping it an interface lets the OTel
// dependency live in a sub-package compiled only with the otel build tag.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []SpanData)
	Shutdown(ctx context.Context) error
}

// Collector buffers spans in memory, keeps the most recent ones for
// inspection and periodically flushes batches to the exporter.
type Collector struct {
	spanCh chan SpanData
	stopCh chan struct{}
	wg     sync.WaitGroup

	flushInterval time.Duration

	recentMu sync.RWMutex
	recent   []SpanData // ring buffer
	next     int
	filled   bool

	stopOnce sync.Once
	verbose  bool
	exporter SpanExporter
}

// NewCollector creates a collector keeping up to recentSize spans
// (default 200 when <= 0). Set KVMAGENT_TRACE_VERBOSE=1 to keep full
// previews of model input.
func NewCollector(recentSize int) *Collector {
	if recentSize <= 0 {
		recentSize = defaultRecentSize
	}
	verbose := os.Getenv("KVMAGENT_TRACE_VERBOSE") != ""
	if verbose {
		slog.Info("tracing: verbose mode enabled (KVMAGENT_TRACE_VERBOSE)")
	}
	return &Collector{
		spanCh:        make(chan SpanData, defaultBufferSize),
		stopCh:        make(chan struct{}),
		flushInterval: defaultFlushInterval,
		recent:        make([]SpanData, recentSize),
		verbose:       verbose,
	}
}

// Verbose reports whether full model input is recorded.
func (c *Collector) Verbose() bool { return c.verbose }

// SetExporter attaches an external span exporter. Call before Start.
func (c *Collector) SetExporter(exp SpanExporter) {
	c.exporter = exp
}

// Start begins the background flush loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.flushLoop()
	slog.Info("tracing collector started")
}

// Stop flushes remaining spans and shuts down the exporter. Safe to call twice.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()

		if c.exporter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.exporter.Shutdown(ctx); err != nil {
				slog.Warn("tracing: span exporter shutdown failed", "error", err)
			}
		}
		slog.Info("tracing collector stopped")
	})
}

// EmitSpan records a span. Non-blocking: the export copy is dropped when
// the buffer is full, the recent ring always keeps it.
func (c *Collector) EmitSpan(span SpanData) {
	if span.ID == uuid.Nil {
		span.ID = uuid.New()
	}
	if span.CreatedAt.IsZero() {
		span.CreatedAt = time.Now().UTC()
	}
	span.InputPreview = TruncatePreview(span.InputPreview)
	span.OutputPreview = TruncatePreview(span.OutputPreview)

	c.remember(span)

	select {
	case c.spanCh <- span:
	default:
		slog.Warn("tracing: span buffer full, dropping span",
			"span_type", span.SpanType, "name", span.Name)
	}
}

// Recent returns up to n of the latest spans, oldest first. n <= 0 returns all kept spans.
func (c *Collector) Recent(n int) []SpanData {
	c.recentMu.RLock()
	defer c.recentMu.RUnlock()

	var all []SpanData
	if c.filled {
		all = append(all, c.recent[c.next:]...)
	}
	all = append(all, c.recent[:c.next]...)
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Trace returns the kept spans of one trace, oldest first.
func (c *Collector) Trace(traceID uuid.UUID) []SpanData {
	var out []SpanData
	for _, s := range c.Recent(0) {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	return out
}

func (c *Collector) remember(span SpanData) {
	c.recentMu.Lock()
	c.recent[c.next] = span
	c.next++
	if c.next == len(c.recent) {
		c.next = 0
		c.filled = true
	}
	c.recentMu.Unlock()
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	var spans []SpanData
drain:
	for {
		select {
		case span := <-c.spanCh:
			spans = append(spans, span)
		default:
			break drain
		}
	}
	if len(spans) == 0 {
		return
	}
	slog.Debug("tracing: flushed spans", "count", len(spans))
	if c.exporter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.exporter.ExportSpans(ctx, spans)
}

// TruncatePreview sanitizes and truncates a string to previewMaxLen bytes.
func TruncatePreview(s string) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= previewMaxLen {
		return s
	}
	maxLen := previewMaxLen
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
