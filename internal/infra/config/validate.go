package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"coral-agents/internal/usecase/backoff"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// KnownTools is the closed set of tool names an agent may bind.
var KnownTools = map[string]bool{
	"create_song":           true,
	"check_song_status":     true,
	"generate_song_concept": true,
	"generate_lyrics":       true,
	"list_songs":            true,
	"get_song_by_id":        true,
	"search_songs":          true,
	"process_feedback":      true,
	"search_news":           true,
	"compose_tweet":         true,
	"list_agents":           true,
	"create_thread":         true,
}

var validProviderTypes = map[string]bool{
	"openai": true,
}

var validGenerationProviders = map[string]bool{
	"sonic": true,
	"nuro":  true,
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateHub(cfg, ve)
	validatePoll(cfg, ve)
	validateLLM(cfg, ve)
	validateGeneration(cfg, ve)
	validateCatalog(cfg, ve)
	validateScheduler(cfg, ve)
	validateAgents(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateHub(cfg *Config, ve *ValidationError) {
	if cfg.Hub.URL == "" {
		ve.Add("hub.url must not be empty (set via CORAL_SSE_URL)")
		return
	}
	u, err := url.Parse(cfg.Hub.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("hub.url %q must be an http(s) URL", cfg.Hub.URL)
	}
}

func validatePolicy(name string, p backoff.Policy, ve *ValidationError) {
	if p.Kind != backoff.KindLinear && p.Kind != backoff.KindExponential {
		ve.Add("%s.kind %q is invalid (want: linear, exponential)", name, p.Kind)
	}
	if p.Base <= 0 {
		ve.Add("%s.base must be > 0", name)
	}
	if p.Cap > 0 && p.Cap < p.Base {
		ve.Add("%s.cap must be >= base", name)
	}
	if p.Max < 0 {
		ve.Add("%s.max must be >= 0", name)
	}
}

func validatePoll(cfg *Config, ve *ValidationError) {
	if cfg.Poll.Timeout <= 0 {
		ve.Add("poll.timeout must be > 0")
	}
	validatePolicy("poll.reconnect", cfg.Poll.Reconnect, ve)
	if cfg.Poll.TransientDelay <= 0 {
		ve.Add("poll.transient_delay must be > 0")
	}
	if cfg.Poll.TransientLimit < 0 {
		ve.Add("poll.transient_limit must be >= 0")
	}
	if cfg.Poll.KeepaliveInterval < 0 {
		ve.Add("poll.keepalive_interval must be >= 0")
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must not be empty")
		return
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai)", i, p.Type)
		}
		if p.APIKey == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via CORAL_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, envName(p.Name))
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !seen[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
		}
	}
	for _, a := range cfg.Agents {
		if a.Provider != "" && !seen[a.Provider] {
			ve.Add("agents[%s].provider %q does not match any configured provider", a.ID, a.Provider)
		}
	}
}

func validateGeneration(cfg *Config, ve *ValidationError) {
	g := cfg.Generation
	if !usesTool(cfg, "create_song") && !usesTool(cfg, "check_song_status") {
		return
	}
	if g.BaseURL == "" {
		ve.Add("generation.base_url must not be empty")
	}
	if g.APIKey == "" {
		ve.Add("generation.api_key is empty (set via CORAL_GENERATION_API_KEY)")
	}
	if len(g.Providers) == 0 {
		ve.Add("generation.providers must not be empty")
	}
	for _, p := range g.Providers {
		if !validGenerationProviders[p] {
			ve.Add("generation.providers: %q is invalid (want: sonic, nuro)", p)
		}
	}
	if g.Interval <= 0 {
		ve.Add("generation.interval must be > 0")
	}
	if g.Ceiling <= g.Grace {
		ve.Add("generation.ceiling must be greater than generation.grace")
	}
	validatePolicy("generation.status_retry", g.StatusRetry, ve)
}

func validateCatalog(cfg *Config, ve *ValidationError) {
	switch cfg.Catalog.Backend {
	case "sqlite":
		if cfg.Catalog.Path == "" {
			ve.Add("catalog.path is required for the sqlite backend")
		}
	case "supabase":
		if cfg.Catalog.SupabaseURL == "" || cfg.Catalog.SupabaseKey == "" {
			ve.Add("catalog.supabase_url and catalog.supabase_key are required for the supabase backend")
		}
	default:
		ve.Add("catalog.backend %q is invalid (want: sqlite, supabase)", cfg.Catalog.Backend)
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	if cfg.Scheduler.Recheck == "" {
		ve.Add("scheduler.recheck is required when the scheduler is enabled")
	} else if _, err := cron.ParseStandard(cfg.Scheduler.Recheck); err != nil {
		ve.Add("scheduler.recheck %q: %v", cfg.Scheduler.Recheck, err)
	}
	if cfg.Scheduler.BatchSize <= 0 {
		ve.Add("scheduler.batch_size must be > 0")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	if len(cfg.Agents) == 0 {
		ve.Add("agents must not be empty")
		return
	}
	seen := make(map[string]bool)
	for i, a := range cfg.Agents {
		if a.ID == "" {
			ve.Add("agents[%d].id must not be empty", i)
			continue
		}
		if seen[a.ID] {
			ve.Add("agents[%d]: duplicate agent id %q", i, a.ID)
		}
		seen[a.ID] = true
		if a.SystemPrompt == "" {
			ve.Add("agents[%d] (%s): system_prompt must not be empty", i, a.ID)
		}
		if a.MaxIterations < 0 {
			ve.Add("agents[%d] (%s): max_iterations must be >= 0", i, a.ID)
		}
		for _, t := range a.Tools {
			if !KnownTools[t] {
				ve.Add("agents[%d] (%s): unknown tool %q", i, a.ID, t)
			}
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func usesTool(cfg *Config, name string) bool {
	for _, a := range cfg.Agents {
		for _, t := range a.Tools {
			if t == name {
				return true
			}
		}
	}
	return false
}
