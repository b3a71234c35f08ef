// Package hid defines the binary frame format consumed by the NanoKVM HID
// endpoint and pure encoders that turn semantic input into frames.
// This package has no I/O and is importable by other clients.
package hid

import (
	"encoding/binary"
	"fmt"
)

// Kind is the leading byte of every frame.
type Kind uint8

const (
	KindKeepAlive Kind = 0
	KindKeyboard  Kind = 1
	KindMouse     Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindKeepAlive:
		return "keepalive"
	case KindKeyboard:
		return "keyboard"
	case KindMouse:
		return "mouse"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame sizes on the wire.
const (
	KeyboardFrameSize  = 6
	MouseFrameSize     = 7
	KeepAliveFrameSize = 1
)

// MouseEvent is the second byte of a mouse frame.
type MouseEvent uint8

const (
	MouseUp MouseEvent = iota
	MouseDown
	MouseMoveAbsolute
	MouseMoveRelative
	MouseScroll
)

func (e MouseEvent) String() string {
	switch e {
	case MouseUp:
		return "up"
	case MouseDown:
		return "down"
	case MouseMoveAbsolute:
		return "move_absolute"
	case MouseMoveRelative:
		return "move_relative"
	case MouseScroll:
		return "scroll"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// MouseButton is the third byte of a mouse frame.
type MouseButton uint8

const (
	ButtonNone  MouseButton = 0
	ButtonLeft  MouseButton = 1
	ButtonRight MouseButton = 2
	ButtonWheel MouseButton = 4
)

func (b MouseButton) String() string {
	switch b {
	case ButtonNone:
		return "none"
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonWheel:
		return "wheel"
	default:
		return fmt.Sprintf("button(%d)", uint8(b))
	}
}

// Frame is one fixed-shape HID record.
type Frame interface {
	Kind() Kind
	Bytes() []byte
}

// KeyboardFrame carries a scan code and modifier flags.
// The zero value is the canonical key release.
type KeyboardFrame struct {
	Code  uint8
	Ctrl  uint8
	Shift uint8
	Alt   uint8
	Meta  uint8
}

func (KeyboardFrame) Kind() Kind { return KindKeyboard }

func (f KeyboardFrame) Bytes() []byte {
	return []byte{byte(KindKeyboard), f.Code, f.Ctrl, f.Shift, f.Alt, f.Meta}
}

// IsRelease reports whether f releases all keys.
func (f KeyboardFrame) IsRelease() bool { return f.Code == 0 }

// MouseFrame carries one mouse event. X and Y are absolute protocol
// positions for MouseMoveAbsolute and zero ("no position") otherwise.
type MouseFrame struct {
	Event  MouseEvent
	Button MouseButton
	X      uint16
	Y      uint16
}

func (MouseFrame) Kind() Kind { return KindMouse }

func (f MouseFrame) Bytes() []byte {
	b := make([]byte, MouseFrameSize)
	b[0] = byte(KindMouse)
	b[1] = byte(f.Event)
	b[2] = byte(f.Button)
	binary.BigEndian.PutUint16(b[3:5], f.X)
	binary.BigEndian.PutUint16(b[5:7], f.Y)
	return b
}

// KeepAliveFrame is the single-byte heartbeat.
type KeepAliveFrame struct{}

func (KeepAliveFrame) Kind() Kind { return KindKeepAlive }

func (KeepAliveFrame) Bytes() []byte { return []byte{byte(KindKeepAlive)} }

// ParseFrame decodes one frame from its wire bytes.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	switch Kind(data[0]) {
	case KindKeepAlive:
		if len(data) != KeepAliveFrameSize {
			return nil, fmt.Errorf("%w: keepalive frame has %d bytes", ErrMalformedFrame, len(data))
		}
		return KeepAliveFrame{}, nil
	case KindKeyboard:
		if len(data) != KeyboardFrameSize {
			return nil, fmt.Errorf("%w: keyboard frame has %d bytes, want %d", ErrMalformedFrame, len(data), KeyboardFrameSize)
		}
		return KeyboardFrame{Code: data[1], Ctrl: data[2], Shift: data[3], Alt: data[4], Meta: data[5]}, nil
	case KindMouse:
		if len(data) != MouseFrameSize {
			return nil, fmt.Errorf("%w: mouse frame has %d bytes, want %d", ErrMalformedFrame, len(data), MouseFrameSize)
		}
		return MouseFrame{
			Event:  MouseEvent(data[1]),
			Button: MouseButton(data[2]),
			X:      binary.BigEndian.Uint16(data[3:5]),
			Y:      binary.BigEndian.Uint16(data[5:7]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedFrame, data[0])
	}
}

// Describe renders a frame for logs and the decode command.
func Describe(f Frame) string {
	switch v := f.(type) {
	case KeyboardFrame:
		if v.IsRelease() {
			return "keyboard release"
		}
		return fmt.Sprintf("keyboard down code=0x%02x ctrl=%d shift=%d alt=%d meta=%d", v.Code, v.Ctrl, v.Shift, v.Alt, v.Meta)
	case MouseFrame:
		if v.Event == MouseMoveAbsolute || v.Event == MouseMoveRelative {
			return fmt.Sprintf("mouse %s x=0x%04x y=0x%04x", v.Event, v.X, v.Y)
		}
		return fmt.Sprintf("mouse %s button=%s", v.Event, v.Button)
	case KeepAliveFrame:
		return "keepalive"
	default:
		return fmt.Sprintf("%T", f)
	}
}
