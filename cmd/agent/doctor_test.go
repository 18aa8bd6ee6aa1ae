package main

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"coral-agents/internal/infra/config"
)

func TestCheckConfigFile_NotFound(t *testing.T) {
	fn := checkConfigFile("/nonexistent/path/config.yaml", nil)
	result := fn(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := writeTestFile(t, cfgPath, "invalid: {{yaml"); err != nil {
		t.Fatal(err)
	}

	fn := checkConfigFile(cfgPath, errors.New("parse config: yaml: line 1"))
	result := fn(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for parse error, got %s", result.Status)
	}
	if result.Fix != "Check config.yaml syntax" {
		t.Errorf("unexpected fix %q", result.Fix)
	}
}

func TestCheckConfigFile_ValidationError(t *testing.T) {
	fn := checkConfigFile("config.yaml", &config.ValidationError{Errors: []string{"hub.url must not be empty"}})
	result := fn(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for validation error, got %s", result.Status)
	}
	if !strings.Contains(result.Fix, "CORAL_") {
		t.Errorf("expected env var hint in fix, got %q", result.Fix)
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := writeTestFile(t, cfgPath, "logger:\n  level: debug"); err != nil {
		t.Fatal(err)
	}

	fn := checkConfigFile(cfgPath, nil)
	result := fn(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for valid config, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckHubEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	cfg := config.Defaults()
	cfg.Hub.URL = "http://" + ln.Addr().String() + "/devmode/app/key/session1/sse"
	if result := checkHubEndpoint(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS for listening hub, got %s: %s", result.Status, result.Message)
	}

	cfg.Hub.URL = "not a url"
	if result := checkHubEndpoint(cfg); result.Status != StatusFail {
		t.Errorf("expected FAIL for bad url, got %s", result.Status)
	}

	if result := checkHubEndpoint(nil); result.Status != StatusFail {
		t.Errorf("expected FAIL for nil config, got %s", result.Status)
	}
}

func TestCheckLLMAPIKey_NilConfig(t *testing.T) {
	result := checkLLMAPIKey(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for nil config, got %s", result.Status)
	}
}

func TestCheckLLMAPIKey_NoProviders(t *testing.T) {
	cfg := &config.Config{}
	result := checkLLMAPIKey(cfg)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for no providers, got %s", result.Status)
	}
}

func TestCheckLLMAPIKey_AllKeysPresent(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			Providers: []config.ProviderConfig{
				{Name: "openai", APIKey: "sk-test"},
			},
		},
	}
	result := checkLLMAPIKey(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckLLMAPIKey_MissingKey(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			Providers: []config.ProviderConfig{
				{Name: "openai", APIKey: "sk-test"},
				{Name: "backup", APIKey: ""},
			},
		},
	}
	result := checkLLMAPIKey(cfg)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for partial keys, got %s", result.Status)
	}
}

func TestCheckLLMConnectivity_NoAPIKey(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			DefaultProvider: "openai",
			Providers: []config.ProviderConfig{
				{Name: "openai", Type: "openai", APIKey: ""},
			},
		},
	}
	result := checkLLMConnectivity(cfg)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN when no API key, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckLLMConnectivity_Reachable(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := &config.Config{
		LLM: config.LLMConfig{
			DefaultProvider: "local",
			Providers: []config.ProviderConfig{
				{Name: "local", Type: "openai", APIKey: "sk-test", BaseURL: srv.URL + "/v1/"},
			},
		},
	}
	result := checkLLMConnectivity(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
	if path != "/v1/models" {
		t.Errorf("requested %q, want /v1/models", path)
	}
}

func TestProviderEndpoint(t *testing.T) {
	tests := []struct {
		baseURL  string
		expected string
	}{
		{"", "https://api.openai.com/v1/models"},
		{"https://custom.api.com/v1", "https://custom.api.com/v1/models"},
		{"https://custom.api.com/v1/", "https://custom.api.com/v1/models"},
	}

	for _, tt := range tests {
		p := &config.ProviderConfig{Type: "openai", BaseURL: tt.baseURL}
		if got := providerEndpoint(p); got != tt.expected {
			t.Errorf("providerEndpoint(%q) = %q, want %q", tt.baseURL, got, tt.expected)
		}
	}
}

func TestCheckGeneration(t *testing.T) {
	cfg := config.Defaults()
	cfg.Generation.APIKey = ""
	if result := checkGeneration(cfg); result.Status != StatusFail {
		t.Errorf("expected FAIL without key, got %s", result.Status)
	}

	cfg.Agents = []config.AgentConfig{{ID: "marvin_agent", Tools: []string{"compose_tweet"}}}
	if result := checkGeneration(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS when no song tool is bound, got %s", result.Status)
	}
}

func TestCheckCatalog(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := config.Defaults()
	cfg.Catalog.Path = filepath.Join(tmpDir, "nested", "catalog.db")
	if result := checkCatalog(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS for sqlite in temp dir, got %s: %s", result.Status, result.Message)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "nested", ".doctor_write_check")); !os.IsNotExist(err) {
		t.Error("write check file left behind")
	}

	cfg.Catalog.Backend = "supabase"
	if result := checkCatalog(cfg); result.Status != StatusFail {
		t.Errorf("expected FAIL for supabase without credentials, got %s", result.Status)
	}

	cfg.Catalog.SupabaseURL = "https://example.supabase.co"
	cfg.Catalog.SupabaseKey = "key"
	cfg.Catalog.Path = ""
	if result := checkCatalog(cfg); result.Status != StatusWarn {
		t.Errorf("expected WARN for supabase without local path, got %s", result.Status)
	}
}

func TestCheckToolDependencies(t *testing.T) {
	cfg := config.Defaults()
	cfg.News.APIKey = ""
	result := checkToolDependencies(cfg)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN without news key, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "search_news") {
		t.Errorf("expected search_news in message, got %q", result.Message)
	}

	cfg.News.APIKey = "news-key"
	if result := checkToolDependencies(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckDiskSpace_NonexistentDir(t *testing.T) {
	cfg := &config.Config{
		Catalog: config.CatalogConfig{Path: "/nonexistent/path/doctor-test/catalog.db"},
	}
	result := checkDiskSpace(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for nonexistent dir, got %s: %s", result.Status, result.Message)
	}
}

func TestStatusIcon(t *testing.T) {
	if statusIcon(StatusPass) != "[PASS]" {
		t.Error("wrong icon for PASS")
	}
	if statusIcon(StatusWarn) != "[WARN]" {
		t.Error("wrong icon for WARN")
	}
	if statusIcon(StatusFail) != "[FAIL]" {
		t.Error("wrong icon for FAIL")
	}
}

func TestSummarize(t *testing.T) {
	pass, warn, fail := summarize([]CheckResult{
		{Status: StatusPass},
		{Status: StatusPass},
		{Status: StatusWarn},
		{Status: StatusFail},
	})
	if pass != 2 || warn != 1 || fail != 1 {
		t.Errorf("summarize = %d/%d/%d, want 2/1/1", pass, warn, fail)
	}
}

// writeTestFile is a test helper that creates a file with the given content.
func writeTestFile(t *testing.T, path, content string) error {
	t.Helper()
	return os.WriteFile(path, []byte(content), 0644)
}
