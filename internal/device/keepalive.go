package device

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultKeepAliveInterval matches the NanoKVM idle timeout margin.
const DefaultKeepAliveInterval = 60 * time.Second

// KeepAlive sends a keep-alive frame on every tick until stopped.
// A failed send is reported and the loop keeps going.
type KeepAlive struct {
	interval  time.Duration
	send      func() error
	newTicker func(time.Duration) Ticker
	onFailure func(error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewKeepAlive creates a stopped keep-alive loop.
func NewKeepAlive(interval time.Duration, send func() error, newTicker func(time.Duration) Ticker, onFailure func(error)) *KeepAlive {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	return &KeepAlive{
		interval:  interval,
		send:      send,
		newTicker: newTicker,
		onFailure: onFailure,
	}
}

// Start begins the loop in a background goroutine.
func (k *KeepAlive) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done = make(chan struct{})
	k.running = true

	// The ticker is created before Start returns so the first tick is one
	// full interval after the link came up.
	ticker := k.newTicker(k.interval)
	go k.loop(ctx, ticker, k.done)
	slog.Debug("device keepalive started", "interval", k.interval)
}

// Stop halts the loop and waits for an in-flight send to finish.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	k.cancel()
	k.running = false
	done := k.done
	k.mu.Unlock()

	<-done
	slog.Debug("device keepalive stopped")
}

// IsRunning returns whether the loop is active.
func (k *KeepAlive) IsRunning() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

func (k *KeepAlive) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			k.tick()
		}
	}
}

func (k *KeepAlive) tick() {
	if err := k.send(); err != nil {
		slog.Warn("device keepalive failed", "error", err)
		if k.onFailure != nil {
			k.onFailure(err)
		}
		return
	}
	slog.Debug("device keepalive sent")
}
