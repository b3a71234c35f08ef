package screen

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// StaticSource always returns the same image. Used offline and in tests.
type StaticSource struct {
	width, height int

	mu    sync.Mutex
	img   image.Image
	png   []byte
	seq   uint64
	taken time.Time
}

// NewStaticSource serves img scaled to width x height.
func NewStaticSource(img image.Image, width, height int) *StaticSource {
	return &StaticSource{img: img, width: width, height: height, taken: time.Now()}
}

// OpenStaticSource loads an image file (PNG or JPEG).
func OpenStaticSource(path string, width, height int) (*StaticSource, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	return NewStaticSource(img, width, height), nil
}

// Set replaces the served image.
func (s *StaticSource) Set(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
	s.png = nil
	s.taken = time.Now()
}

func (s *StaticSource) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img == nil {
		return nil, ErrUnavailable
	}
	if s.png == nil {
		data, err := encodeFrame(s.img, s.width, s.height)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		s.png = data
	}
	s.seq++
	return &Frame{PNG: s.png, Width: s.width, Height: s.height, Seq: s.seq, CapturedAt: s.taken}, nil
}
