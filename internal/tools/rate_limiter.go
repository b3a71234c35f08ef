package tools

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is matched by the error ToolRateLimiter.Allow returns.
var ErrRateLimited = errors.New("tool rate limit exceeded")

// ToolRateLimiter is a sliding window limiter on device actions per session.
type ToolRateLimiter struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	maxPerHr int
	window   time.Duration
	now      func() time.Time
}

// NewToolRateLimiter creates a limiter allowing maxPerHour actions per key.
// Pass 0 to disable rate limiting (returns nil).
func NewToolRateLimiter(maxPerHour int) *ToolRateLimiter {
	if maxPerHour <= 0 {
		return nil
	}
	return &ToolRateLimiter{
		windows:  make(map[string][]time.Time),
		maxPerHr: maxPerHour,
		window:   time.Hour,
		now:      time.Now,
	}
}

// Allow records one action for key, or returns ErrRateLimited.
func (rl *ToolRateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entries := prune(rl.windows[key], now.Add(-rl.window))

	if len(entries) >= rl.maxPerHr {
		rl.windows[key] = entries
		return fmt.Errorf("%w: %d actions/hour for session %s", ErrRateLimited, rl.maxPerHr, key)
	}
	rl.windows[key] = append(entries, now)
	return nil
}

// Cleanup drops keys with no action inside the window.
func (rl *ToolRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, entries := range rl.windows {
		if kept := prune(entries, cutoff); len(kept) == 0 {
			delete(rl.windows, key)
		} else {
			rl.windows[key] = kept
		}
	}
}

func prune(entries []time.Time, cutoff time.Time) []time.Time {
	start := 0
	for start < len(entries) && entries[start].Before(cutoff) {
		start++
	}
	return entries[start:]
}
