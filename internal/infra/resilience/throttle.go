package resilience

import (
	"context"

	"golang.org/x/time/rate"

	"coral-agents/internal/domain"
)

// Throttle spaces out calls to one upstream.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows perMinute calls per minute with the given burst. A
// non-positive perMinute disables throttling.
func NewThrottle(perMinute, burst int) *Throttle {
	if perMinute <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perMinute)/60.0, burst)}
}

// Wait blocks until a call is allowed or ctx ends.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return domain.WrapOp("throttle", err)
	}
	return nil
}

// Allow reports whether a call may proceed now without waiting.
func (t *Throttle) Allow() bool {
	if t == nil {
		return true
	}
	return t.limiter.Allow()
}
