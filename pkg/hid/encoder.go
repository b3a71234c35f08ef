package hid

import (
	"fmt"
	"math"
	"time"
)

// Minimum timing contracts of the device. Violating them causes missed or
// duplicated input on the target machine.
const (
	ClickHold   = 200 * time.Millisecond // button held down before release
	ClickSettle = 50 * time.Millisecond  // after release, before the next action
	MoveSettle  = 50 * time.Millisecond  // after a move, before the next action
	KeyHold     = 50 * time.Millisecond  // key held down before release
	KeyGap      = 50 * time.Millisecond  // after release, before the next key
)

// Absolute position range of the protocol. Zero is reserved as "no position".
const (
	MinPosition uint16 = 0x0001
	MaxPosition uint16 = 0x7fff
)

// KeyPair is a key press: down frame followed by the release.
type KeyPair struct {
	Down KeyboardFrame
	Up   KeyboardFrame
}

// ClickPair is a button press: down frame followed by the release.
type ClickPair struct {
	Down MouseFrame
	Up   MouseFrame
}

// EncodeKeyPress returns the down frame for code with all modifiers zero
// and the canonical all-zero release.
func EncodeKeyPress(code uint8) (down, up KeyboardFrame) {
	return KeyboardFrame{Code: code}, KeyboardFrame{}
}

// EncodeKey looks up name and encodes a key press for it.
func EncodeKey(name string) (down, up KeyboardFrame, err error) {
	code, ok := Lookup(name)
	if !ok {
		return KeyboardFrame{}, KeyboardFrame{}, &KeyError{Key: name}
	}
	down, up = EncodeKeyPress(code)
	return down, up, nil
}

// EncodeTypeString encodes one key press per character of text, in order.
// Characters with no mapping are returned in skipped and do not stop the
// rest of the string from being encoded.
func EncodeTypeString(text string) (pairs []KeyPair, skipped []rune) {
	for _, r := range text {
		code, ok := LookupRune(r)
		if !ok {
			skipped = append(skipped, r)
			continue
		}
		down, up := EncodeKeyPress(code)
		pairs = append(pairs, KeyPair{Down: down, Up: up})
	}
	return pairs, skipped
}

// ScalePosition maps a pixel offset on an axis of the given extent into the
// protocol range. Negative offsets clamp to MinPosition and offsets at or
// past the extent clamp to MaxPosition.
func ScalePosition(offset, extent int) uint16 {
	n := float64(offset) / float64(extent)
	if n < 0 {
		return MinPosition
	}
	scaled := math.Floor(float64(MaxPosition)*n) + float64(MinPosition)
	if scaled > float64(MaxPosition) {
		return MaxPosition
	}
	return uint16(scaled)
}

// EncodeMouseMove encodes an absolute move to pixel (x, y) on a display of
// widthPx × heightPx.
func EncodeMouseMove(x, y, widthPx, heightPx int) (MouseFrame, error) {
	if widthPx <= 0 || heightPx <= 0 {
		return MouseFrame{}, fmt.Errorf("%w: %dx%d", ErrInvalidDisplay, widthPx, heightPx)
	}
	return MouseFrame{
		Event:  MouseMoveAbsolute,
		Button: ButtonNone,
		X:      ScalePosition(x, widthPx),
		Y:      ScalePosition(y, heightPx),
	}, nil
}

// EncodeMouseClick returns the down and up frames for one click of button.
// The caller must hold the button for ClickHold between them.
func EncodeMouseClick(button MouseButton) (down, up MouseFrame) {
	return MouseFrame{Event: MouseDown, Button: button}, MouseFrame{Event: MouseUp, Button: button}
}

// EncodeMouseDoubleClick returns two independent click pairs.
func EncodeMouseDoubleClick(button MouseButton) [2]ClickPair {
	var pairs [2]ClickPair
	for i := range pairs {
		pairs[i].Down, pairs[i].Up = EncodeMouseClick(button)
	}
	return pairs
}

// EncodeKeepAlive returns the heartbeat frame.
func EncodeKeepAlive() KeepAliveFrame { return KeepAliveFrame{} }
