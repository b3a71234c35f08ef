package tools

import (
	"errors"
	"testing"
	"time"
)

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(max int) (*ToolRateLimiter, *manualClock) {
	clock := &manualClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewToolRateLimiter(max)
	rl.now = clock.Now
	return rl, clock
}

func TestNewToolRateLimiter_Disabled(t *testing.T) {
	for _, n := range []int{0, -5} {
		if rl := NewToolRateLimiter(n); rl != nil {
			t.Errorf("expected nil for maxPerHour=%d, got %v", n, rl)
		}
	}
}

func TestToolRateLimiter_BlockOverLimit(t *testing.T) {
	rl, _ := newTestLimiter(3)
	for i := 0; i < 3; i++ {
		if err := rl.Allow("cli"); err != nil {
			t.Fatalf("action %d should be allowed: %v", i, err)
		}
	}
	if err := rl.Allow("cli"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("4th action: expected ErrRateLimited, got %v", err)
	}
}

func TestToolRateLimiter_SeparateKeys(t *testing.T) {
	rl, _ := newTestLimiter(1)
	_ = rl.Allow("cli")
	if err := rl.Allow("cli"); err == nil {
		t.Error("cli should be blocked")
	}
	if err := rl.Allow("gateway"); err != nil {
		t.Errorf("gateway should be allowed: %v", err)
	}
}

func TestToolRateLimiter_WindowExpiry(t *testing.T) {
	rl, clock := newTestLimiter(2)
	_ = rl.Allow("cli")
	clock.Advance(30 * time.Minute)
	_ = rl.Allow("cli")

	if err := rl.Allow("cli"); err == nil {
		t.Fatal("should be blocked at limit")
	}

	clock.Advance(31 * time.Minute)
	if err := rl.Allow("cli"); err != nil {
		t.Errorf("oldest action left the window, should be allowed: %v", err)
	}
}

func TestToolRateLimiter_Cleanup(t *testing.T) {
	rl, clock := newTestLimiter(10)
	_ = rl.Allow("a")
	clock.Advance(40 * time.Minute)
	_ = rl.Allow("b")
	clock.Advance(30 * time.Minute)
	rl.Cleanup()

	if _, ok := rl.windows["a"]; ok {
		t.Error("expired key a should be removed")
	}
	if n := len(rl.windows["b"]); n != 1 {
		t.Errorf("key b entries = %d, want 1", n)
	}
}
