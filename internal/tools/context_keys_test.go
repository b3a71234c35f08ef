package tools

import (
	"context"
	"testing"
)

func TestToolContextKeys_SessionKey(t *testing.T) {
	ctx := context.Background()
	if v := ToolSessionKeyFromCtx(ctx); v != "" {
		t.Errorf("expected empty, got %q", v)
	}

	ctx = WithToolSessionKey(ctx, "cli")
	if v := ToolSessionKeyFromCtx(ctx); v != "cli" {
		t.Errorf("expected cli, got %q", v)
	}
}

func TestToolContextKeys_RunID(t *testing.T) {
	ctx := WithToolRunID(context.Background(), "run-1")
	if v := ToolRunIDFromCtx(ctx); v != "run-1" {
		t.Errorf("expected run-1, got %q", v)
	}
	if v := ToolSessionKeyFromCtx(ctx); v != "" {
		t.Errorf("keys collide: session key = %q", v)
	}
}
