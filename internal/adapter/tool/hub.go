package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
)

// HubConn is the part of an agent's poll loop that tools use.
type HubConn interface {
	Send(ctx context.Context, reply domain.OutboundReply) error
	CallHub(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// HubLink lets tools be built before the poll loop they talk through.
type HubLink struct {
	mu   sync.RWMutex
	conn HubConn
}

// Bind attaches the loop.
func (h *HubLink) Bind(conn HubConn) {
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
}

func (h *HubLink) get() (HubConn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.conn == nil {
		return nil, domain.ErrNotConnected
	}
	return h.conn, nil
}

// Send delivers a reply through the bound loop.
func (h *HubLink) Send(ctx context.Context, reply domain.OutboundReply) error {
	conn, err := h.get()
	if err != nil {
		return err
	}
	return conn.Send(ctx, reply)
}

// CallHub invokes a hub tool through the bound loop.
func (h *HubLink) CallHub(ctx context.Context, name string, args json.RawMessage) (string, error) {
	conn, err := h.get()
	if err != nil {
		return "", err
	}
	return conn.CallHub(ctx, name, args)
}

// ListAgentsTool shows which agents are present on the hub.
type ListAgentsTool struct {
	hub    HubConn
	logger *slog.Logger
}

func NewListAgentsTool(hub HubConn, logger *slog.Logger) *ListAgentsTool {
	return &ListAgentsTool{hub: hub, logger: logger}
}

func (t *ListAgentsTool) Name() string { return "list_agents" }
func (t *ListAgentsTool) Description() string {
	return "List the agents currently connected to the hub, optionally with their descriptions."
}

func (t *ListAgentsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"include_details": {"type": "boolean", "description": "Include each agent's description"}
			},
			"additionalProperties": false
		}`),
	}
}

type listAgentsParams struct {
	IncludeDetails bool `json:"include_details"`
}

func (t *ListAgentsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, _ trace.Span, p listAgentsParams) (any, error) {
			args, _ := json.Marshal(map[string]any{"includeDetails": p.IncludeDetails})
			return t.hub.CallHub(ctx, "list_agents", args)
		},
	)
}

// CreateThreadTool opens a new hub thread with the given participants.
type CreateThreadTool struct {
	hub    HubConn
	logger *slog.Logger
}

func NewCreateThreadTool(hub HubConn, logger *slog.Logger) *CreateThreadTool {
	return &CreateThreadTool{hub: hub, logger: logger}
}

func (t *CreateThreadTool) Name() string { return "create_thread" }
func (t *CreateThreadTool) Description() string {
	return "Create a new hub thread and invite other agents to it."
}

func (t *CreateThreadTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"thread_name": {"type": "string", "minLength": 1},
				"participants": {"type": "array", "items": {"type": "string"}, "minItems": 1}
			},
			"required": ["thread_name", "participants"],
			"additionalProperties": false
		}`),
	}
}

type createThreadParams struct {
	ThreadName   string   `json:"thread_name"`
	Participants []string `json:"participants"`
}

func (t *CreateThreadTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, _ trace.Span, p createThreadParams) (any, error) {
			name := strings.TrimSpace(p.ThreadName)
			if name == "" || len(p.Participants) == 0 {
				return ErrResult("thread_name and participants are required")
			}
			args, _ := json.Marshal(map[string]any{
				"threadName":     name,
				"participantIds": p.Participants,
			})
			out, err := t.hub.CallHub(ctx, "create_thread", args)
			if err != nil {
				return nil, fmt.Errorf("create thread %q: %w", name, err)
			}
			return out, nil
		},
	)
}
