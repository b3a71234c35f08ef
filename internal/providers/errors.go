package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrModelBoundary is matched by every error a Provider returns.
var ErrModelBoundary = errors.New("model boundary error")

// APIError is a non-2xx reply from the model API.
type APIError struct {
	Provider   string
	Status     int
	Type       string // e.g. "rate_limit_error", "overloaded_error"
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: HTTP %d %s: %s", e.Provider, e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Message)
}

func (e *APIError) Is(target error) bool { return target == ErrModelBoundary }

// RateLimited reports a 429 reply.
func (e *APIError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests || e.Type == "rate_limit_error"
}

// Overloaded reports a 529 / overloaded_error reply.
func (e *APIError) Overloaded() bool {
	return e.Status == 529 || e.Type == "overloaded_error"
}

// Unauthorized reports an authentication or permission failure.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden ||
		e.Type == "authentication_error" || e.Type == "permission_error"
}

// BoundaryError wraps transport and decoding failures.
type BoundaryError struct {
	Provider string
	Op       string // "encode", "request", "decode"
	Err      error
}

func (e *BoundaryError) Error() string { return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err) }

func (e *BoundaryError) Unwrap() error { return e.Err }

func (e *BoundaryError) Is(target error) bool { return target == ErrModelBoundary }

// Timeout reports whether the failure was a deadline or network timeout.
func (e *BoundaryError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
