package generation

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/resilience"
)

// lyricsOnly names providers that need full lyrics and cannot take a short prompt.
var lyricsOnly = map[string]bool{"nuro": true}

// Selector orders providers for a request. Long lyrics go through the
// configured order; short ones skip lyrics-only providers.
type Selector struct {
	byName     map[string]domain.GenerationProvider
	order      []string
	longLyrics int
}

// NewSelector builds a selector over providers in the given preference order.
func NewSelector(order []string, longLyrics int, providers ...domain.GenerationProvider) (*Selector, error) {
	s := &Selector{byName: make(map[string]domain.GenerationProvider), longLyrics: longLyrics}
	for _, p := range providers {
		s.byName[p.Name()] = p
	}
	for _, name := range order {
		if _, ok := s.byName[name]; !ok {
			return nil, fmt.Errorf("generation provider %q: %w", name, domain.ErrProviderNotFound)
		}
		s.order = append(s.order, name)
	}
	return s, nil
}

// NewSelectorFromConfig wires the MusicAPI providers behind a shared throttle
// and one breaker each.
func NewSelectorFromConfig(cfg config.GenerationConfig, logger *slog.Logger) (*Selector, error) {
	throttle := resilience.NewThrottle(cfg.RatePerMinute, cfg.Burst)
	return NewSelector(cfg.Providers, cfg.LongLyrics,
		NewGuarded(NewSonic(cfg, throttle, logger), cfg.Breaker, logger),
		NewGuarded(NewNuro(cfg, throttle, logger), cfg.Breaker, logger),
	)
}

// For returns the providers to try for req, in order.
func (s *Selector) For(req domain.GenerationRequest) []domain.GenerationProvider {
	long := utf8.RuneCountInString(req.Lyrics) >= s.longLyrics
	var out []domain.GenerationProvider
	for _, name := range s.order {
		if !long && lyricsOnly[name] {
			continue
		}
		out = append(out, s.byName[name])
	}
	return out
}

// Get returns the provider that owns a job, for status checks.
func (s *Selector) Get(name string) (domain.GenerationProvider, bool) {
	p, ok := s.byName[name]
	return p, ok
}
