package screen

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

func TestStaticSource_ScalesToDisplay(t *testing.T) {
	src := NewStaticSource(testImage(1920, 1080), 1024, 768)
	f, err := src.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b := decodePNG(t, f.PNG).Bounds()
	if b.Dx() != 1024 || b.Dy() != 768 {
		t.Errorf("size = %dx%d, want 1024x768", b.Dx(), b.Dy())
	}
	if f.Width != 1024 || f.Height != 768 {
		t.Errorf("frame dims = %dx%d", f.Width, f.Height)
	}

	raw, err := base64.StdEncoding.DecodeString(f.Base64())
	if err != nil || !bytes.Equal(raw, f.PNG) {
		t.Error("Base64 does not round trip the PNG")
	}
	p := f.Part()
	if p.Type != "image" || p.Source == nil || p.Source.MediaType != "image/png" {
		t.Errorf("part = %+v", p)
	}
}

func TestStaticSource_Empty(t *testing.T) {
	src := NewStaticSource(nil, 1024, 768)
	if _, err := src.Capture(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func mjpegServer(t *testing.T, frames ...[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary("frame"); err != nil {
			t.Error(err)
			return
		}
		for _, f := range frames {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			_, _ = part.Write(f)
		}
		// Open the next part so the last frame is complete on the reader side.
		_, _ = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
}

func TestMJPEGSource_Capture(t *testing.T) {
	srv := mjpegServer(t, jpegBytes(t, 640, 480), jpegBytes(t, 800, 600))
	defer srv.Close()

	src := NewMJPEGSource(MJPEGOptions{URL: srv.URL, Width: 1024, Height: 768})
	src.Start(context.Background())
	defer src.Stop()

	f, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if f.Seq < 1 {
		t.Errorf("seq = %d", f.Seq)
	}
	b := decodePNG(t, f.PNG).Bounds()
	if b.Dx() != 1024 || b.Dy() != 768 {
		t.Errorf("size = %dx%d, want 1024x768", b.Dx(), b.Dy())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, seq, _, _ := src.Latest(); seq == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("second frame never became latest")
}

func TestMJPEGSource_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no signal", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewMJPEGSource(MJPEGOptions{
		URL:               srv.URL,
		Width:             1024,
		Height:            768,
		RetryDelay:        10 * time.Millisecond,
		FirstFrameTimeout: 100 * time.Millisecond,
	})
	src.Start(context.Background())
	defer src.Stop()

	if _, err := src.Capture(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestMJPEGSource_StaleFrame(t *testing.T) {
	src := NewMJPEGSource(MJPEGOptions{URL: "http://unused", Width: 1024, Height: 768, MaxAge: time.Second})
	src.store(jpegBytes(t, 64, 48))
	src.mu.Lock()
	src.at = time.Now().Add(-time.Minute)
	src.mu.Unlock()

	if _, err := src.Capture(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for stale frame, got %v", err)
	}
}

// flakyStream serves one frame and hangs up on the first request, answers
// 503 to the next failures requests, then streams normally.
func flakyStream(t *testing.T, frame []byte, failures int32) *httptest.Server {
	t.Helper()
	var n atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := n.Add(1)
		if i > 1 && i <= 1+failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		mw := multipart.NewWriter(w)
		_ = mw.SetBoundary("frame")
		part, _ := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
		_, _ = part.Write(frame)
		_, _ = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
		w.(http.Flusher).Flush()
		if i == 1 {
			return
		}
		<-r.Context().Done()
	}))
}

func TestMJPEGSource_DeadStreamIsNotServed(t *testing.T) {
	srv := flakyStream(t, jpegBytes(t, 64, 48), 30)
	defer srv.Close()

	src := NewMJPEGSource(MJPEGOptions{URL: srv.URL, Width: 1024, Height: 768, RetryDelay: 10 * time.Millisecond})
	src.Start(context.Background())
	defer src.Stop()

	sawDown := false
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, err := src.Capture(context.Background())
		if errors.Is(err, ErrUnavailable) {
			if _, _, _, ok := src.Latest(); !ok {
				t.Fatalf("Capture failed before any frame: %v", err)
			}
			sawDown = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !sawDown {
		t.Fatal("capture kept serving the last frame after the stream died")
	}

	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f, err := src.Capture(context.Background())
		if err == nil {
			if f.Seq < 2 {
				t.Errorf("recovered frame seq = %d, want a fresh frame", f.Seq)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("capture did not recover after the stream came back")
}

func TestStreamBoundary(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"multipart/x-mixed-replace; boundary=frame", "frame", false},
		{"multipart/x-mixed-replace;boundary=--myboundary", "myboundary", false},
		{"image/jpeg", "", true},
		{"multipart/x-mixed-replace", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := streamBoundary(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("streamBoundary(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		_, _ = io.WriteString(w, "--frame\r\n\r\nabc")
	}))
	defer upstream.Close()

	proxy := httptest.NewServer(NewProxy(upstream.URL, nil))
	defer proxy.Close()

	resp, err := http.Get(proxy.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "--frame\r\n\r\nabc" {
		t.Errorf("body = %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("content type = %q", ct)
	}
}

func TestProxy_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstream.Close()

	rec := httptest.NewRecorder()
	NewProxy(upstream.URL, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream/mjpeg", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}
