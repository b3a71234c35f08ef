package hid

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKey is returned when a key name has no scan code mapping.
	ErrUnknownKey = errors.New("unknown key")

	// ErrMalformedFrame is returned by ParseFrame for bytes that are not a valid frame.
	ErrMalformedFrame = errors.New("malformed hid frame")

	// ErrInvalidDisplay is returned when display dimensions are not positive.
	ErrInvalidDisplay = errors.New("invalid display dimensions")
)

// KeyError reports the key name that could not be mapped.
type KeyError struct {
	Key string
}

func (e *KeyError) Error() string { return fmt.Sprintf("unknown key: %q", e.Key) }

func (e *KeyError) Unwrap() error { return ErrUnknownKey }
