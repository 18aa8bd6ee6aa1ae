package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
)

// nopLogger returns a logger that discards output.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nameParams struct {
	Name string `json:"name"`
}

func TestExecute_Results(t *testing.T) {
	tests := []struct {
		name        string
		ret         any
		wantContent string
		wantError   bool
	}{
		{"json value", map[string]string{"greeting": "hello"}, `"greeting": "hello"`, false},
		{"string", "plain text", "plain text", false},
		{"custom result", &domain.ToolResult{Content: "custom"}, "custom", false},
		{"custom error result", &domain.ToolResult{Content: "nope", IsError: true}, "nope", true},
		{"unmarshalable", map[string]any{"ch": make(chan int)}, "failed to format response", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Execute(context.Background(), "test_tool", nopLogger(), json.RawMessage(`{"name":"x"}`),
				func(context.Context, trace.Span, nameParams) (any, error) { return tt.ret, nil },
			)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.IsError != tt.wantError {
				t.Errorf("IsError = %v, want %v", result.IsError, tt.wantError)
			}
			if !strings.Contains(result.Content, tt.wantContent) {
				t.Errorf("Content = %q, want it to contain %q", result.Content, tt.wantContent)
			}
		})
	}
}

func TestExecute_InvalidParams(t *testing.T) {
	called := false
	result, err := Execute(context.Background(), "test_tool", nopLogger(), json.RawMessage(`{"name":`),
		func(context.Context, trace.Span, nameParams) (any, error) {
			called = true
			return "", nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "invalid params") {
		t.Errorf("result = %+v", result)
	}
	if called {
		t.Error("handler ran on invalid params")
	}
}

func TestExecute_EmptyParams(t *testing.T) {
	result, _ := Execute(context.Background(), "test_tool", nopLogger(), nil,
		func(_ context.Context, _ trace.Span, p nameParams) (any, error) {
			return "name=" + p.Name, nil
		},
	)
	if result.IsError || result.Content != "name=" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecute_HandlerErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetryable bool
	}{
		{"permanent", errors.New("bad input"), false},
		{"rejected", fmt.Errorf("sonic: %w", domain.ErrProviderRejected), false},
		{"rate limited", fmt.Errorf("news: %w", domain.ErrRateLimit), true},
		{"hub gone", domain.NewTransportError(domain.TransportClosed, "call", nil), true},
		{"network", errors.New("dial tcp: connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Execute(context.Background(), "test_tool", nopLogger(), json.RawMessage(`{}`),
				func(context.Context, trace.Span, nameParams) (any, error) { return nil, tt.err },
			)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected error result")
			}
			if result.IsRetryable != tt.wantRetryable {
				t.Errorf("IsRetryable = %v, want %v", result.IsRetryable, tt.wantRetryable)
			}
			if tt.wantRetryable && !strings.Contains(result.Content, "may succeed on retry") {
				t.Errorf("Content = %q, want retry hint", result.Content)
			}
		})
	}
}

func TestErrResult(t *testing.T) {
	result, err := ErrResult("rating must be between %d and %d", 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || result.Content != "rating must be between 0 and 5" {
		t.Errorf("result = %+v", result)
	}
}

func TestTextResult(t *testing.T) {
	if r := TextResult("hi"); r.IsError || r.Content != "hi" {
		t.Errorf("result = %+v", r)
	}
}
