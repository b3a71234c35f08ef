package agent

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
)

var (
	// ErrBusy rejects a submission while a run is in flight.
	ErrBusy = errors.New("agent is busy")

	// ErrInputBlocked rejects a submission flagged by the input guard in block mode.
	ErrInputBlocked = errors.New("input blocked: possible prompt injection")
)

// ApologyText is the assistant turn appended when the model call fails.
const ApologyText = "I apologize, but I encountered an error. Please try again."

// apology builds the assistant text for a failed model call.
// Never expose raw API payloads to the user.
func apology(err error) string {
	if hint := errorHint(err); hint != "" {
		return ApologyText + "\n\n(" + hint + ")"
	}
	return ApologyText
}

func errorHint(err error) string {
	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.RateLimited():
			return "The model API rate limit was reached."
		case apiErr.Overloaded():
			return "The model service is temporarily overloaded."
		case apiErr.Unauthorized():
			return "Authentication failed. Check the API key configuration."
		}
	}
	var bErr *providers.BoundaryError
	if errors.As(err, &bErr) && bErr.Timeout() {
		return "The request timed out."
	}

	lower := strings.ToLower(err.Error())
	switch {
	case isContextOverflowError(lower):
		return "The conversation is too large for the model. Use /new to start over."
	case isMessageFormatError(lower):
		return "The conversation history was rejected. Use /new to start over."
	case containsAny(lower, "rate limit", "rate_limit", "too many requests", "429"):
		return "The model API rate limit was reached."
	case strings.Contains(lower, "overloaded"):
		return "The model service is temporarily overloaded."
	case containsAny(lower, "billing", "credit balance", "payment required", "402"):
		return "The API key may have run out of credits."
	case containsAny(lower, "invalid api key", "invalid x-api-key", "unauthorized", "authentication", "401", "403"):
		return "Authentication failed. Check the API key configuration."
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return "The request timed out."
	case strings.Contains(lower, "context canceled"):
		return "The request was cancelled."
	case containsAny(lower, "not_found_error", "model:"):
		return "Check the configured model name."
	}
	slog.Warn("unclassified model error", "error", err)
	return ""
}

func isContextOverflowError(lower string) bool {
	return containsAny(lower,
		"request_too_large",
		"prompt is too long",
		"maximum context length",
		"exceeds model context window",
	)
}

// isMessageFormatError matches tool_use/tool_result mismatches and role ordering errors.
func isMessageFormatError(lower string) bool {
	return containsAny(lower,
		"tool_use_id",
		"tool_use.id",
		"roles must alternate",
		"tool_result block",
		"tool_use block",
	)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
