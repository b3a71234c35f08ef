// Package screen provides the screenshot source behind the computer tool:
// the NanoKVM MJPEG stream, scaled to the display size declared to the model.
package screen

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/disintegration/imaging"

	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// ErrUnavailable is returned when no frame can be produced.
var ErrUnavailable = errors.New("screenshot unavailable")

// Source produces the most recent screen frame.
type Source interface {
	Capture(ctx context.Context) (*Frame, error)
}

// Frame is one captured screen image, PNG encoded at the display size.
type Frame struct {
	PNG        []byte
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

// Base64 returns the PNG as standard base64.
func (f *Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.PNG)
}

// Part returns the frame as an inline image tool-result part.
func (f *Frame) Part() protocol.ResultPart {
	return protocol.ImagePart(protocol.MediaTypePNG, f.Base64())
}

// Age is the time since the frame left the device.
func (f *Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.CapturedAt)
}

// encodeFrame scales img to width x height and encodes PNG.
func encodeFrame(img image.Image, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid display size %dx%d", width, height)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
