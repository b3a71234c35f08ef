package providers

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited throttles a Provider to a number of requests per minute.
// Callers block until a token is available or their context ends.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p. rpm <= 0 returns p unchanged.
func NewRateLimited(p Provider, rpm int) Provider {
	if rpm <= 0 {
		return p
	}
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// NewAdjustableRateLimited always wraps p so the limit can be raised later
// with SetRPM. rpm <= 0 starts unlimited.
func NewAdjustableRateLimited(p Provider, rpm int) *RateLimited {
	r := &RateLimited{Provider: p, limiter: rate.NewLimiter(rate.Inf, 1)}
	r.SetRPM(rpm)
	return r
}

// SetRPM changes the limit in place (config hot reload).
func (r *RateLimited) SetRPM(rpm int) {
	if rpm <= 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Every(time.Minute / time.Duration(rpm)))
}

func (r *RateLimited) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if res := r.limiter.Reserve(); res.OK() {
		if d := res.Delay(); d > 0 {
			slog.Debug("provider.rate_limited", "provider", r.Name(), "wait_ms", d.Milliseconds())
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Cancel()
				return nil, &BoundaryError{Provider: r.Name(), Op: "request", Err: ctx.Err()}
			case <-timer.C:
			}
		}
	}
	return r.Provider.Chat(ctx, req)
}
