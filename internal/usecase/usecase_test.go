package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"coral-agents/internal/domain"
)

// --- Mocks ---

type mockLLM struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	errs      []error
	requests  []domain.ChatRequest
	callIdx   int
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := m.callIdx
	m.callIdx++
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx >= len(m.responses) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
		}, nil
	}
	resp := m.responses[idx]
	return &resp, nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

type mockToolExecutor struct {
	tools map[string]domain.Tool
}

func newToolExecutor(tools ...domain.Tool) *mockToolExecutor {
	m := &mockToolExecutor{tools: make(map[string]domain.Tool)}
	for _, t := range tools {
		m.tools[t.Name()] = t
	}
	return m
}

func (m *mockToolExecutor) Get(name string) (domain.Tool, error) {
	t, ok := m.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (m *mockToolExecutor) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, t.Schema())
	}
	return out
}

// funcTool runs fn on Execute.
type funcTool struct {
	name string
	fn   func(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error)
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return "test tool " + t.name }
func (t *funcTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return t.fn(ctx, params)
}

func staticTool(name, content string) *funcTool {
	return &funcTool{name: name, fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: content}, nil
	}}
}

func failingTool(name string, err error) *funcTool {
	return &funcTool{name: name, fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		return nil, err
	}}
}

type responderFunc func(ctx context.Context, msg domain.InboundMessage) (string, error)

func (f responderFunc) Respond(ctx context.Context, msg domain.InboundMessage) (string, error) {
	return f(ctx, msg)
}

func noSleep(context.Context, time.Duration) error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func toolCallResponse(calls ...domain.ToolCall) domain.ChatResponse {
	return domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls}}
}

func textResponse(text string) domain.ChatResponse {
	return domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: text}}
}

var errBoom = errors.New("boom")
