package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/resilience"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const notLoaded = "cannot check, config not loaded"

// runDoctor executes all health checks and reports results.
func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Try to load config; some checks work without it.
	cfg, cfgErr := config.Load(*cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(*cfgPath, cfgErr)},
		{Name: "Hub endpoint", Fn: checkHubEndpoint},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Generation API", Fn: checkGeneration},
		{Name: "Catalog backend", Fn: checkCatalog},
		{Name: "Tool dependencies", Fn: checkToolDependencies},
		{Name: "Disk space", Fn: checkDiskSpace},
	}

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)
	}

	_, warn, fail := printReport(results)
	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above before connecting the agents.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nThe agents should run, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! The agents are ready to connect.")
	}
	return nil
}

func printReport(results []CheckResult) (pass, warn, fail int) {
	fmt.Println("coral-agents doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	for _, result := range results {
		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
	}
	pass, warn, fail = summarize(results)

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	return pass, warn, fail
}

func summarize(results []CheckResult) (pass, warn, fail int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}
	return pass, warn, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file parsed. A missing file is
// only a warning: the built-in personas run from defaults and env vars.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			var ve *config.ValidationError
			fix := "Check config.yaml syntax"
			if errors.As(cfgErr, &ve) {
				fix = "Correct the listed fields in config.yaml or the matching CORAL_* variables"
			}
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fix,
			}
		}

		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}

		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkHubEndpoint dials the hub's host. It does not open a session, which
// would register the agent with the hub.
func checkHubEndpoint(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}

	u, err := url.Parse(cfg.Hub.URL)
	if err != nil || u.Host == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("hub url %q is not valid", cfg.Hub.URL),
			Fix:     "Set CORAL_SSE_URL to the session's SSE endpoint",
		}
	}
	addr := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			addr = net.JoinHostPort(u.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach hub at %s: %v", addr, err),
			Fix:     "Start the Coral server or correct CORAL_SSE_URL",
		}
	}
	conn.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("hub reachable at %s (latency: %dms)", addr, time.Since(start).Milliseconds()),
	}
}

// checkLLMAPIKey verifies at least one LLM provider has an API key configured.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}

	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider in config.yaml under llm.providers",
		}
	}

	var withKey, withoutKey []string
	for _, p := range cfg.LLM.Providers {
		if p.APIKey != "" {
			withKey = append(withKey, p.Name)
		} else {
			withoutKey = append(withoutKey, p.Name)
		}
	}

	if len(withKey) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API keys found for providers: %s", strings.Join(withoutKey, ", ")),
			Fix:     "Set OPENAI_API_KEY or CORAL_LLM_PROVIDER_<NAME>_API_KEY",
		}
	}

	if len(withoutKey) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("keys configured for [%s]; missing for [%s]", strings.Join(withKey, ", "), strings.Join(withoutKey, ", ")),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("API keys configured for: %s", strings.Join(withKey, ", ")),
	}
}

// checkLLMConnectivity tests if the default LLM provider is reachable.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}

	var provider *config.ProviderConfig
	for i := range cfg.LLM.Providers {
		if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
			provider = &cfg.LLM.Providers[i]
			break
		}
	}
	if provider == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not found in config", cfg.LLM.DefaultProvider),
		}
	}

	if provider.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "skipped, no API key for default provider",
		}
	}

	return reach(providerEndpoint(provider), provider.Name)
}

// providerEndpoint returns a cheap GET endpoint for an OpenAI-compatible API.
func providerEndpoint(p *config.ProviderConfig) string {
	base := strings.TrimRight(p.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return base + "/models"
}

// checkGeneration verifies the song generation API is configured and reachable.
func checkGeneration(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if !bindsAny(cfg, "create_song", "check_song_status") {
		return CheckResult{Status: StatusPass, Message: "no agent binds a song tool"}
	}
	if cfg.Generation.APIKey == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "song tools are bound but no generation API key is set",
			Fix:     "Set MUSICAPI_KEY or CORAL_GENERATION_API_KEY",
		}
	}
	return reach(strings.TrimRight(cfg.Generation.BaseURL, "/"), "generation API")
}

// reach issues a GET and treats any HTTP response as reachable.
func reach(endpoint, name string) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}

	client := resilience.NewHTTPClient(resilience.HTTPConfig{})
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection and firewall settings",
		}
	}
	resp.Body.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", name, latency.Milliseconds()),
	}
}

// checkCatalog verifies the catalog backend can be opened.
func checkCatalog(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}

	switch cfg.Catalog.Backend {
	case "supabase":
		if cfg.Catalog.SupabaseURL == "" || cfg.Catalog.SupabaseKey == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "supabase backend selected but url or key is missing",
				Fix:     "Set SUPABASE_URL and SUPABASE_KEY",
			}
		}
		if cfg.Catalog.Path == "" {
			return CheckResult{
				Status:  StatusWarn,
				Message: "supabase configured; no local path, so timed-out songs are not rechecked",
				Fix:     "Set catalog.path to keep pending jobs in a local SQLite file",
			}
		}
		return checkWritableDir(filepath.Dir(cfg.Catalog.Path), "supabase configured; pending jobs in")
	default:
		return checkWritableDir(filepath.Dir(cfg.Catalog.Path), "sqlite catalog in")
	}
}

func checkWritableDir(dir, label string) CheckResult {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
			Fix:     "Check directory permissions or set CORAL_CATALOG_PATH",
		}
	}
	marker := filepath.Join(dir, ".doctor_write_check")
	if err := os.WriteFile(marker, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not writable: %v", dir, err),
			Fix:     "Check directory permissions or set CORAL_CATALOG_PATH",
		}
	}
	os.Remove(marker)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s %s", label, dir),
	}
}

// checkToolDependencies reports bound tools whose external service has no credentials.
func checkToolDependencies(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}

	var issues []string
	if bindsAny(cfg, "search_news") && cfg.News.APIKey == "" {
		issues = append(issues, "search_news needs WORLD_NEWS_API_KEY")
	}
	if cfg.Catalog.Backend == "supabase" && cfg.Catalog.SupabaseKey == "" &&
		bindsAny(cfg, "process_feedback", "list_songs", "get_song_by_id", "search_songs") {
		issues = append(issues, "catalog tools need SUPABASE_KEY")
	}

	if len(issues) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: strings.Join(issues, "; "),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d agent(s), all tool dependencies configured", len(cfg.Agents)),
	}
}

func bindsAny(cfg *config.Config, tools ...string) bool {
	for _, a := range cfg.Agents {
		for _, t := range a.Tools {
			for _, want := range tools {
				if t == want {
					return true
				}
			}
		}
	}
	return false
}

// checkDiskSpace checks available disk space where the catalog lives.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "./data"
	if cfg != nil && cfg.Catalog.Path != "" {
		dataDir = filepath.Dir(cfg.Catalog.Path)
	}

	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "data directory does not exist yet, space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(lines) < 2 || len(fields) < 5 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	available := fields[3]
	usePercent := fields[4]

	var pct int
	fmt.Sscanf(strings.TrimSuffix(usePercent, "%"), "%d", &pct)

	if pct >= 95 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move catalog.path to a different partition",
		}
	}
	if pct >= 85 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}
