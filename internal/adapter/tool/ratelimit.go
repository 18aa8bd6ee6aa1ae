package tool

import (
	"context"
	"encoding/json"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/resilience"
)

// RateLimitedTool refuses calls beyond a per-minute budget. A refused call is
// reported to the model instead of waiting, so one chatty thread cannot stall
// the agent's poll loop.
type RateLimitedTool struct {
	inner    domain.Tool
	throttle *resilience.Throttle
}

// WithRateLimit wraps t with a perMinute budget. A non-positive perMinute
// returns t unchanged.
func WithRateLimit(t domain.Tool, perMinute int) domain.Tool {
	if perMinute <= 0 {
		return t
	}
	return &RateLimitedTool{inner: t, throttle: resilience.NewThrottle(perMinute, perMinute)}
}

func (r *RateLimitedTool) Name() string              { return r.inner.Name() }
func (r *RateLimitedTool) Description() string       { return r.inner.Description() }
func (r *RateLimitedTool) Schema() domain.ToolSchema { return r.inner.Schema() }

func (r *RateLimitedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if !r.throttle.Allow() {
		return &domain.ToolResult{
			IsError:     true,
			IsRetryable: true,
			Content:     r.inner.Name() + ": " + domain.ErrRateLimit.Error() + ", try again in a minute",
		}, nil
	}
	return r.inner.Execute(ctx, params)
}
