// Package fakedevice is an in-process NanoKVM stand-in: it accepts the HID
// websocket, decodes every frame, and serves an MJPEG stream of a fixed
// image. Tests and `kvmagent fakekvm` use it.
package fakedevice

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"

	"github.com/chunlea/computer-use-with-nanokvm/pkg/hid"
)

const (
	HIDPath    = "/api/ws"
	StreamPath = "/api/stream/mjpeg"

	defaultFrameInterval = 100 * time.Millisecond
)

// Received is one frame read from the HID socket.
type Received struct {
	Frame hid.Frame
	At    time.Time
}

// Device is an http.Handler serving the fake endpoints.
type Device struct {
	upgrader      websocket.Upgrader
	frameInterval time.Duration

	mu       sync.Mutex
	received []Received
	bad      int
	conns    int
	jpeg     []byte
	notify   chan struct{}
}

// New creates a device streaming img (a gray 1024x768 screen when nil).
func New(img image.Image) (*Device, error) {
	if img == nil {
		img = imaging.New(1024, 768, color.Gray{Y: 0x80})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode screen: %w", err)
	}
	return &Device{
		frameInterval: defaultFrameInterval,
		jpeg:          buf.Bytes(),
		notify:        make(chan struct{}, 1),
	}, nil
}

func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case HIDPath:
		d.serveHID(w, r)
	case StreamPath:
		d.serveStream(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (d *Device) serveHID(w http.ResponseWriter, r *http.Request) {
	c, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	d.mu.Lock()
	d.conns++
	d.mu.Unlock()

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		f, err := hid.ParseFrame(data)
		d.mu.Lock()
		if err != nil {
			d.bad++
			slog.Warn("fakedevice: malformed frame", "bytes", data, "error", err)
		} else {
			d.received = append(d.received, Received{Frame: f, At: time.Now()})
		}
		d.mu.Unlock()
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
}

func (d *Device) serveStream(w http.ResponseWriter, r *http.Request) {
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	flusher, _ := w.(http.Flusher)

	ticker := time.NewTicker(d.frameInterval)
	defer ticker.Stop()
	for {
		d.mu.Lock()
		frame := d.jpeg
		d.mu.Unlock()

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {fmt.Sprint(len(frame))},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(frame); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// Frames returns every decoded frame so far.
func (d *Device) Frames() []hid.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]hid.Frame, len(d.received))
	for i, r := range d.received {
		out[i] = r.Frame
	}
	return out
}

// Received returns the decoded frames with their arrival times.
func (d *Device) Received() []Received {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Received(nil), d.received...)
}

// Malformed counts frames ParseFrame rejected.
func (d *Device) Malformed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bad
}

// Connections counts accepted HID sockets.
func (d *Device) Connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns
}

// WaitFrames blocks until at least n frames arrived or timeout passes.
func (d *Device) WaitFrames(n int, timeout time.Duration) ([]hid.Frame, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if frames := d.Frames(); len(frames) >= n {
			return frames, true
		}
		select {
		case <-d.notify:
		case <-deadline.C:
			return d.Frames(), false
		}
	}
}
