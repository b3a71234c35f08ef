package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
)

func TestApology(t *testing.T) {
	tests := []struct {
		name string
		err  error
		hint string
	}{
		{"rate limited", &providers.APIError{Status: 429}, "rate limit"},
		{"overloaded", &providers.APIError{Status: 529, Type: "overloaded_error"}, "overloaded"},
		{"auth", &providers.APIError{Status: 401, Type: "authentication_error"}, "API key"},
		{"timeout", &providers.BoundaryError{Provider: "anthropic", Op: "request", Err: context.DeadlineExceeded}, "timed out"},
		{"history", fmt.Errorf("messages.1: tool_use_id not found"), "/new"},
		{"too long", errors.New("prompt is too long: 250000 tokens"), "too large"},
		{"unknown", errors.New("something odd"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := apology(tt.err)
			if !strings.HasPrefix(got, ApologyText) {
				t.Fatalf("apology %q lacks the fixed text", got)
			}
			if tt.hint == "" {
				if got != ApologyText {
					t.Errorf("expected bare apology, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.hint) {
				t.Errorf("apology %q lacks hint %q", got, tt.hint)
			}
		})
	}
}
