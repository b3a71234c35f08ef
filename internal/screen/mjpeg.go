package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

const (
	// DefaultStreamPath is the NanoKVM MJPEG endpoint.
	DefaultStreamPath = "/api/stream/mjpeg"

	maxFrameBytes            = 8 << 20
	defaultRetryDelay        = 2 * time.Second
	defaultFirstFrameTimeout = 5 * time.Second
)

// MJPEGOptions configures an MJPEGSource.
type MJPEGOptions struct {
	URL               string // full stream URL
	Width             int    // display width declared to the model
	Height            int    // display height declared to the model
	Client            *http.Client
	RetryDelay        time.Duration // wait between reconnect attempts
	FirstFrameTimeout time.Duration // how long Capture waits for the first frame
	MaxAge            time.Duration // frames older than this are unavailable; 0 disables
}

// MJPEGSource reads a multipart/x-mixed-replace stream in the background
// and keeps the most recent JPEG part.
type MJPEGSource struct {
	opts MJPEGOptions

	mu      sync.Mutex
	latest  []byte
	seq     uint64
	at      time.Time
	down    error         // set while the reader is reconnecting
	ready   chan struct{} // closed on the first frame
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMJPEGSource creates a stopped source.
func NewMJPEGSource(opts MJPEGOptions) *MJPEGSource {
	if opts.Client == nil {
		// No overall timeout: the response body is an endless stream.
		opts.Client = &http.Client{}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.FirstFrameTimeout <= 0 {
		opts.FirstFrameTimeout = defaultFirstFrameTimeout
	}
	return &MJPEGSource{opts: opts, ready: make(chan struct{})}
}

// Start begins reading the stream until Stop or ctx is done.
func (s *MJPEGSource) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.run(ctx, s.done)
	slog.Info("screen stream started", "url", s.opts.URL)
}

// Stop halts the reader and waits for it to exit.
func (s *MJPEGSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	done := s.done
	s.mu.Unlock()
	<-done
	slog.Info("screen stream stopped", "url", s.opts.URL)
}

// Latest returns the most recent raw JPEG.
func (s *MJPEGSource) Latest() (jpeg []byte, seq uint64, at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, 0, time.Time{}, false
	}
	return s.latest, s.seq, s.at, true
}

// Capture decodes the latest JPEG, scales it to the display size and
// encodes PNG. Before the first frame arrives it waits up to
// FirstFrameTimeout. While the reader is reconnecting the last frame is
// not served.
func (s *MJPEGSource) Capture(ctx context.Context) (*Frame, error) {
	if _, _, _, ok := s.Latest(); !ok {
		timer := time.NewTimer(s.opts.FirstFrameTimeout)
		defer timer.Stop()
		select {
		case <-s.ready:
		case <-timer.C:
			return nil, fmt.Errorf("%w: no frame received from %s", ErrUnavailable, s.opts.URL)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
	}

	s.mu.Lock()
	data, seq, at, down := s.latest, s.seq, s.at, s.down
	s.mu.Unlock()
	if down != nil {
		return nil, fmt.Errorf("%w: stream interrupted: %w", ErrUnavailable, down)
	}
	if s.opts.MaxAge > 0 && time.Since(at) > s.opts.MaxAge {
		return nil, fmt.Errorf("%w: latest frame is %s old", ErrUnavailable, time.Since(at).Round(time.Millisecond))
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame %d: %w", ErrUnavailable, seq, err)
	}
	out, err := encodeFrame(img, s.opts.Width, s.opts.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &Frame{PNG: out, Width: s.opts.Width, Height: s.opts.Height, Seq: seq, CapturedAt: at}, nil
}

func (s *MJPEGSource) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := s.readStream(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("screen stream interrupted", "url", s.opts.URL, "error", err, "retry_in", s.opts.RetryDelay)
		s.mu.Lock()
		s.down = err
		s.mu.Unlock()

		timer := time.NewTimer(s.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *MJPEGSource) readStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return err
	}
	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}
	boundary, err := streamBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		return err
	}

	mr := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("stream ended")
			}
			return err
		}
		data, err := io.ReadAll(io.LimitReader(part, maxFrameBytes+1))
		part.Close()
		if err != nil {
			return err
		}
		if len(data) > maxFrameBytes {
			slog.Warn("screen frame too large, skipped", "bytes", len(data))
			continue
		}
		if len(data) == 0 {
			continue
		}
		s.store(data)
	}
}

func (s *MJPEGSource) store(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.latest == nil
	s.latest = data
	s.seq++
	s.at = time.Now()
	s.down = nil
	if first {
		close(s.ready)
	}
}

// streamBoundary extracts the multipart boundary. Some encoders put the
// leading "--" into the header value.
func streamBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("parse content type %q: %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("unexpected content type %q", mediaType)
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return "", fmt.Errorf("content type %q has no boundary", contentType)
	}
	return boundary, nil
}
