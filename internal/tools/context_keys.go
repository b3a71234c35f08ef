package tools

import "context"

type ctxKey int

const (
	ctxSessionKey ctxKey = iota
	ctxRunID
)

// WithToolSessionKey sets the key the registry rate limits on.
func WithToolSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxSessionKey, key)
}

func ToolSessionKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionKey).(string)
	return v
}

// WithToolRunID tags tool executions with the agent run they belong to.
func WithToolRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxRunID, runID)
}

func ToolRunIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxRunID).(string)
	return v
}
