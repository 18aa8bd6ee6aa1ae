package main

import (
	"fmt"
	"log/slog"

	"coral-agents/internal/adapter/llm"
	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
)

// LLMComponents holds all LLM-related components
type LLMComponents struct {
	Registry   *llm.Registry
	DefaultLLM domain.LLMProvider
}

// initLLM registers every configured provider behind its own circuit breaker
// and wraps the default one with failover when enabled.
func initLLM(cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	registry, err := llm.NewRegistryFromConfig(cfg.LLM.Providers, log)
	if err != nil {
		return nil, err
	}

	var fallbacks []string
	if cfg.LLM.Failover.Enabled {
		fallbacks = cfg.LLM.Failover.Fallbacks
	}
	defaultLLM, err := registry.Chain(cfg.LLM.DefaultProvider, fallbacks, log)
	if err != nil {
		return nil, fmt.Errorf("default llm provider: %w", err)
	}
	if len(fallbacks) > 0 {
		log.Info("model failover enabled", "fallbacks", fallbacks)
	}

	return &LLMComponents{
		Registry:   registry,
		DefaultLLM: defaultLLM,
	}, nil
}

// forAgent returns the provider an agent talks to: its own when it names one,
// the default chain otherwise.
func (c *LLMComponents) forAgent(agent config.AgentConfig) (domain.LLMProvider, error) {
	if agent.Provider == "" {
		return c.DefaultLLM, nil
	}
	p, err := c.Registry.Get(agent.Provider)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agent.ID, err)
	}
	return p, nil
}
