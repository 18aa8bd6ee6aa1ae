package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/resilience"
)

// CircuitBreakerProvider wraps an LLMProvider so that repeated failures make
// later calls fail fast instead of piling onto a broken upstream.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
}

// NewCircuitBreakerProvider wraps inner with a circuit breaker. Rejected
// requests (4xx) do not count as failures.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg resilience.BreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	return &CircuitBreakerProvider{
		inner:   inner,
		breaker: resilience.NewBreaker[*domain.ChatResponse]("llm:"+inner.Name(), cfg, logger, resilience.ClientError),
	}
}

// Chat implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		if resilience.IsOpen(err) {
			return nil, fmt.Errorf("provider %q circuit open: %w", p.inner.Name(), err)
		}
		return nil, err
	}
	return resp, nil
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the breaker state for monitoring.
func (p *CircuitBreakerProvider) State() gobreaker.State { return p.breaker.State() }

var _ domain.LLMProvider = (*CircuitBreakerProvider)(nil)
