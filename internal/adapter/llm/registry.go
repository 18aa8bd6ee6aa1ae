package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.LLMProvider)}
}

// NewRegistryFromConfig builds one breaker-wrapped provider per config entry.
func NewRegistryFromConfig(cfgs []config.ProviderConfig, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, pc := range cfgs {
		var p domain.LLMProvider
		switch pc.Type {
		case "", "openai":
			p = NewOpenAIProvider(pc, logger)
		default:
			return nil, fmt.Errorf("llm provider %q: unsupported type %q", pc.Name, pc.Type)
		}
		if err := r.Register(NewCircuitBreakerProvider(p, pc.Breaker, logger)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// Chain returns primary wrapped with the named fallbacks. Unknown names are an error.
func (r *Registry) Chain(primary string, fallbacks []string, logger *slog.Logger) (domain.LLMProvider, error) {
	p, err := r.Get(primary)
	if err != nil {
		return nil, err
	}
	if len(fallbacks) == 0 {
		return p, nil
	}
	fbs := make([]domain.LLMProvider, 0, len(fallbacks))
	for _, name := range fallbacks {
		fb, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		fbs = append(fbs, fb)
	}
	return NewFailoverProvider(p, fbs, logger), nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
