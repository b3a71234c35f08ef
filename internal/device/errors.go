package device

import (
	"errors"
	"fmt"
)

var (
	// ErrLinkDown means the transport is not usable: never connected,
	// dropped by the peer, or failed on write.
	ErrLinkDown = errors.New("device link down")

	// ErrClosed means Close was called; the link cannot be reused.
	ErrClosed = errors.New("device link closed")
)

// Error is returned by every Link operation that touches the transport.
type Error struct {
	Op  string // "connect", "send", "reconnect"
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("device %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func linkDown(op string, cause error) *Error {
	if cause == nil {
		return &Error{Op: op, Err: ErrLinkDown}
	}
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrLinkDown, cause)}
}
