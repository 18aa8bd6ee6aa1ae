package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"coral-agents/internal/infra/resilience"
	"coral-agents/internal/usecase/backoff"
)

// Config is the top-level application configuration.
type Config struct {
	Hub        HubConfig        `yaml:"hub"`
	Poll       PollConfig       `yaml:"poll"`
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	News       NewsConfig       `yaml:"news"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Agents     []AgentConfig    `yaml:"agents"`
	Includes   []string         `yaml:"includes,omitempty"`
}

// HubConfig locates the Coral hub SSE endpoint.
type HubConfig struct {
	URL         string                `yaml:"url"`
	ClientName  string                `yaml:"client_name"`
	Headers     map[string]string     `yaml:"headers,omitempty"`
	CallTimeout time.Duration         `yaml:"call_timeout"`
	InitTimeout time.Duration         `yaml:"init_timeout"`
	HTTP        resilience.HTTPConfig `yaml:"http"`
}

// PollConfig holds the mention loop timings shared by every agent.
type PollConfig struct {
	Timeout           time.Duration  `yaml:"timeout"`
	Reconnect         backoff.Policy `yaml:"reconnect"`
	TransientDelay    time.Duration  `yaml:"transient_delay"`
	TransientLimit    int            `yaml:"transient_limit"`
	KeepaliveInterval time.Duration  `yaml:"keepalive_interval"` // 0 disables keepalive
	KeepaliveTimeout  time.Duration  `yaml:"keepalive_timeout"`
	SendTimeout       time.Duration  `yaml:"send_timeout"`
}

// FailoverConfig lists fallback providers tried after the default one.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string           `yaml:"default_provider"`
	Providers       []ProviderConfig `yaml:"providers"`
	Failover        FailoverConfig   `yaml:"failover"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string                   `yaml:"name"`
	Type        string                   `yaml:"type"`
	BaseURL     string                   `yaml:"base_url"`
	APIKey      string                   `yaml:"api_key"`
	Model       string                   `yaml:"model"`
	Temperature float64                  `yaml:"temperature,omitempty"`
	MaxTokens   int                      `yaml:"max_tokens,omitempty"`
	HTTP        resilience.HTTPConfig    `yaml:"http"`
	Breaker     resilience.BreakerConfig `yaml:"circuit_breaker"`
}

// GenerationConfig configures the song generation providers and the job poller.
type GenerationConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Providers is the preference order for long lyrics. Short lyrics only
	// use providers that accept a plain prompt.
	Providers     []string                 `yaml:"providers"`
	LongLyrics    int                      `yaml:"long_lyrics"`
	SonicModel    string                   `yaml:"sonic_model"`
	Async         bool                     `yaml:"async"`
	Grace         time.Duration            `yaml:"grace"`
	Interval      time.Duration            `yaml:"interval"`
	Ceiling       time.Duration            `yaml:"ceiling"`
	StatusRetry   backoff.Policy           `yaml:"status_retry"`
	RatePerMinute int                      `yaml:"rate_per_minute"`
	Burst         int                      `yaml:"burst"`
	HTTP          resilience.HTTPConfig    `yaml:"http"`
	Breaker       resilience.BreakerConfig `yaml:"circuit_breaker"`
}

// CatalogConfig selects the durable store.
type CatalogConfig struct {
	Backend     string                `yaml:"backend"` // "sqlite" or "supabase"
	Path        string                `yaml:"path"`
	SupabaseURL string                `yaml:"supabase_url"`
	SupabaseKey string                `yaml:"supabase_key"`
	HTTP        resilience.HTTPConfig `yaml:"http"`
}

// NewsConfig configures the WorldNewsAPI search.
type NewsConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Country  string `yaml:"country"`
	Language string `yaml:"language"`
	Number   int    `yaml:"number"`
}

// SchedulerConfig holds the pending job recheck settings.
type SchedulerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Recheck     string `yaml:"recheck"` // cron expression
	BatchSize   int    `yaml:"batch_size"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// AgentConfig describes one persona connected to the hub.
type AgentConfig struct {
	ID             string        `yaml:"id"`
	Description    string        `yaml:"description"`
	SystemPrompt   string        `yaml:"system_prompt"`
	Tools          []string      `yaml:"tools"`
	WaitForAgents  int           `yaml:"wait_for_agents"`
	Provider       string        `yaml:"provider,omitempty"`
	Model          string        `yaml:"model,omitempty"`
	MaxIterations  int           `yaml:"max_iterations"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	ToolRateLimit  int           `yaml:"tool_rate_limit"` // calls per minute per tool, 0 = unlimited
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// defaultDataDir returns the persistent data directory under $HOME/.coral-agents/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".coral-agents", "data")
}

// Defaults returns a Config with the timings the agents were tuned with.
func Defaults() *Config {
	return &Config{
		Hub: HubConfig{
			URL:         "http://localhost:5555/devmode/exampleApplication/privkey/session1/sse",
			ClientName:  "coral-agents",
			CallTimeout: 30 * time.Second,
			InitTimeout: 20 * time.Second,
		},
		Poll: PollConfig{
			Timeout: 8 * time.Second,
			Reconnect: backoff.Policy{
				Kind: backoff.KindLinear,
				Base: 5 * time.Second,
				Cap:  30 * time.Second,
				Max:  5,
			},
			TransientDelay:    5 * time.Second,
			TransientLimit:    3,
			KeepaliveInterval: 3 * time.Second,
			KeepaliveTimeout:  4 * time.Second,
			SendTimeout:       30 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: []ProviderConfig{{
				Name:        "openai",
				Type:        "openai",
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				Temperature: 0.7,
			}},
		},
		Generation: GenerationConfig{
			BaseURL:    "https://api.musicapi.ai",
			Providers:  []string{"nuro", "sonic"},
			LongLyrics: 300,
			SonicModel: "sonic-v4",
			Grace:      30 * time.Second,
			Interval:   15 * time.Second,
			Ceiling:    300 * time.Second,
			StatusRetry: backoff.Policy{
				Kind: backoff.KindExponential,
				Base: 5 * time.Second,
				Cap:  time.Minute,
				Max:  3,
			},
			RatePerMinute: 10,
			Burst:         2,
		},
		Catalog: CatalogConfig{
			Backend: "sqlite",
			Path:    filepath.Join(defaultDataDir(), "catalog.db"),
		},
		News: NewsConfig{
			BaseURL:  "https://api.worldnewsapi.com",
			Country:  "us",
			Language: "en",
			Number:   3,
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Recheck:     "@every 5m",
			BatchSize:   20,
			MaxAttempts: 12,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "coral-agents",
		},
		Agents: DefaultAgents(),
	}
}

// DefaultAgents returns the four personas the hub session expects.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			ID:            "world_news_agent",
			Description:   "You are world_news_agent, responsible for fetching and generating news topics based on mentions from other agents",
			SystemPrompt:  "You are world_news_agent. Search the news for what you are asked about and answer with short, sourced summaries.",
			Tools:         []string{"search_news", "list_agents", "create_thread"},
			WaitForAgents: 4,
		},
		{
			ID:            "angus_music_agent",
			Description:   "Agent Angus - Music publishing automation specialist. Handles song status checks and listener feedback processing.",
			SystemPrompt:  "You are Angus. You check on songs, look them up in the catalog and record listener feedback.",
			Tools:         []string{"check_song_status", "process_feedback", "list_songs", "get_song_by_id", "list_agents"},
			WaitForAgents: 4,
		},
		{
			ID:            "yona_agent",
			Description:   "You are Yona, an AI K-pop star responsible for creating music, writing lyrics and generating songs.",
			SystemPrompt:  "You are Yona. Sketch a concept, write lyrics and create songs when asked, then report the result.",
			Tools:         []string{"generate_song_concept", "generate_lyrics", "create_song", "check_song_status", "search_songs", "list_agents"},
			WaitForAgents: 4,
		},
		{
			ID:            "marvin_agent",
			Description:   "You are marvin_agent, an AI character that generates witty, tech-focused tweets with a dry sense of humor",
			SystemPrompt:  "You are Marvin. Answer with one dry, witty tweet.",
			Tools:         []string{"compose_tweet", "list_agents"},
			WaitForAgents: 4,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = nil
	}

	if data != nil {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if len(cfg.Includes) > 0 {
			visited := map[string]bool{absPath: true}
			if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
				return nil, err
			}
			// The main file wins over its includes.
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config (second pass): %w", err)
			}
			cfg.Includes = nil
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CORAL_MASTER_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps CORAL_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("CORAL_SSE_URL", &cfg.Hub.URL)
	setDuration("CORAL_POLL_TIMEOUT", &cfg.Poll.Timeout)
	setDuration("CORAL_KEEPALIVE_INTERVAL", &cfg.Poll.KeepaliveInterval)

	setString("CORAL_LLM_DEFAULT_PROVIDER", &cfg.LLM.DefaultProvider)
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		envKey := "CORAL_LLM_PROVIDER_" + envName(p.Name) + "_API_KEY"
		setString(envKey, &p.APIKey)
		if p.APIKey == "" && p.Type == "openai" {
			setString("OPENAI_API_KEY", &p.APIKey)
		}
	}

	setString("CORAL_GENERATION_BASE_URL", &cfg.Generation.BaseURL)
	setString("CORAL_GENERATION_API_KEY", &cfg.Generation.APIKey)
	if cfg.Generation.APIKey == "" {
		setString("MUSICAPI_KEY", &cfg.Generation.APIKey)
	}
	setBool("CORAL_GENERATION_ASYNC", &cfg.Generation.Async)

	setString("CORAL_CATALOG_BACKEND", &cfg.Catalog.Backend)
	setString("CORAL_CATALOG_PATH", &cfg.Catalog.Path)
	setString("SUPABASE_URL", &cfg.Catalog.SupabaseURL)
	setString("SUPABASE_KEY", &cfg.Catalog.SupabaseKey)

	setString("CORAL_NEWS_API_KEY", &cfg.News.APIKey)
	if cfg.News.APIKey == "" {
		setString("WORLD_NEWS_API_KEY", &cfg.News.APIKey)
	}

	setBool("CORAL_SCHEDULER_ENABLED", &cfg.Scheduler.Enabled)
	setString("CORAL_LOGGER_LEVEL", &cfg.Logger.Level)
	setString("CORAL_LOGGER_FORMAT", &cfg.Logger.Format)
	setBool("CORAL_TRACER_ENABLED", &cfg.Tracer.Enabled)
	setString("CORAL_TRACER_EXPORTER", &cfg.Tracer.Exporter)
}

// envName upper-cases a provider name for use in an env var key.
func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

// decryptSecrets finds "enc:..." values in credentials and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	type secret struct {
		label string
		value *string
	}
	secrets := []secret{
		{"generation api_key", &cfg.Generation.APIKey},
		{"catalog supabase_key", &cfg.Catalog.SupabaseKey},
		{"news api_key", &cfg.News.APIKey},
	}
	for i := range cfg.LLM.Providers {
		secrets = append(secrets, secret{"provider " + cfg.LLM.Providers[i].Name + " api_key", &cfg.LLM.Providers[i].APIKey})
	}
	for k := range cfg.Hub.Headers {
		v := cfg.Hub.Headers[k]
		if strings.HasPrefix(v, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(v, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("hub header %s: %w", k, err)
			}
			cfg.Hub.Headers[k] = decrypted
		}
	}

	for _, s := range secrets {
		if !strings.HasPrefix(*s.value, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*s.value, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.label, err)
		}
		*s.value = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// newGCM derives a 32-byte Argon2id key from passphrase and salt.
func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
