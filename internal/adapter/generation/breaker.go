package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/resilience"
)

// Guarded wraps a provider with circuit breakers. An open circuit on Create
// reads as a rejection so the poller moves on to the next provider.
type Guarded struct {
	inner  domain.GenerationProvider
	create *gobreaker.CircuitBreaker[string]
	status *gobreaker.CircuitBreaker[domain.JobStatus]
}

// NewGuarded wraps inner. Rejections and other 4xx answers do not trip the breaker.
func NewGuarded(inner domain.GenerationProvider, cfg resilience.BreakerConfig, logger *slog.Logger) *Guarded {
	ignore := func(err error) bool {
		return errors.Is(err, domain.ErrProviderRejected) || resilience.ClientError(err)
	}
	name := "generation:" + inner.Name()
	return &Guarded{
		inner:  inner,
		create: resilience.NewBreaker[string](name+":create", cfg, logger, ignore),
		status: resilience.NewBreaker[domain.JobStatus](name+":status", cfg, logger, ignore),
	}
}

func (g *Guarded) Name() string { return g.inner.Name() }

// Create implements domain.GenerationProvider.
func (g *Guarded) Create(ctx context.Context, req domain.GenerationRequest) (string, error) {
	id, err := g.create.Execute(func() (string, error) {
		return g.inner.Create(ctx, req)
	})
	if resilience.IsOpen(err) {
		return "", fmt.Errorf("%s: %w: %w", g.Name(), domain.ErrProviderRejected, err)
	}
	return id, err
}

// Status implements domain.GenerationProvider.
func (g *Guarded) Status(ctx context.Context, jobID string) (domain.JobStatus, error) {
	return g.status.Execute(func() (domain.JobStatus, error) {
		return g.inner.Status(ctx, jobID)
	})
}

var _ domain.GenerationProvider = (*Guarded)(nil)
