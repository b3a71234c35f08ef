package tracing

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	collectorKey ctxKey = iota
	traceIDKey
	parentSpanKey
)

// WithCollector attaches a collector to ctx.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey, c)
}

// CollectorFromContext returns the collector attached to ctx, or nil.
func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey).(*Collector)
	return c
}

func WithTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func TraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(traceIDKey).(uuid.UUID)
	return id
}

// WithParentSpanID makes id the parent of spans emitted under ctx.
func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, parentSpanKey, id)
}

func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(parentSpanKey).(uuid.UUID)
	return id
}
