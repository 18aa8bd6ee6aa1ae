// Package hub connects agents to a Coral MCP hub over SSE.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/tracer"
)

// Hub tool names.
const (
	toolWaitForMentions = "wait_for_mentions"
	toolSendMessage     = "send_message"
	toolListAgents      = "list_agents"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultInitTimeout = 20 * time.Second
	// pollSlack is added to the hub-side wait so the hub answers before the
	// local deadline fires.
	pollSlack = 5 * time.Second
)

// mcpClient abstracts the MCP client for testability.
type mcpClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// dialFunc starts a client for rawURL and registers lost as its stream-loss callback.
type dialFunc func(ctx context.Context, rawURL string, lost func(error)) (mcpClient, error)

// Options configures the SSE transport.
type Options struct {
	ClientName    string
	ClientVersion string
	Headers       map[string]string
	// HTTPClient must not set an overall Timeout; it would cut the event stream.
	HTTPClient  *http.Client
	CallTimeout time.Duration
	InitTimeout time.Duration
}

// Transport implements domain.HubTransport on top of mcp-go's SSE client.
type Transport struct {
	opts   Options
	logger *slog.Logger
	dial   dialFunc
}

// NewTransport returns a transport that dials real SSE endpoints.
func NewTransport(opts Options, logger *slog.Logger) *Transport {
	if opts.ClientName == "" {
		opts.ClientName = "coral-agents"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = defaultInitTimeout
	}
	t := &Transport{opts: opts, logger: logger}
	t.dial = t.dialSSE
	return t
}

// newTransportWithDialer creates a Transport with a custom dialer (for testing).
func newTransportWithDialer(opts Options, logger *slog.Logger, dial dialFunc) *Transport {
	t := NewTransport(opts, logger)
	t.dial = dial
	return t
}

// SessionURL appends the agent identity to the hub endpoint.
func SessionURL(endpoint string, id domain.HubIdentity) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse hub endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("hub endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if id.AgentID == "" {
		return "", fmt.Errorf("agent id is required")
	}
	q := u.Query()
	q.Set("agentId", id.AgentID)
	if id.WaitForAgents > 0 {
		q.Set("waitForAgents", strconv.Itoa(id.WaitForAgents))
	}
	if id.Description != "" {
		q.Set("agentDescription", id.Description)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the hub and initializes an MCP session. ctx bounds the lifetime
// of the event stream, so it should be the agent's run context.
func (t *Transport) Open(ctx context.Context, endpoint string, id domain.HubIdentity) (domain.HubHandle, error) {
	rawURL, err := SessionURL(endpoint, id)
	if err != nil {
		return nil, domain.NewTransportError(domain.TransportFatal, "open", err)
	}

	s := &session{
		agentID:     id.AgentID,
		callTimeout: t.opts.CallTimeout,
		logger:      t.logger.With("agent", id.AgentID),
	}

	c, err := t.dial(ctx, rawURL, s.markLost)
	if err != nil {
		return nil, domain.NewTransportError(domain.TransportClosed, "open", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    t.opts.ClientName,
		Version: t.opts.ClientVersion,
	}

	initCtx, cancel := context.WithTimeout(ctx, t.opts.InitTimeout)
	defer cancel()
	if _, err := c.Initialize(initCtx, initReq); err != nil {
		c.Close()
		return nil, domain.NewTransportError(domain.TransportClosed, "initialize", err)
	}

	s.client = c
	s.logger.Info("hub session opened", "wait_for_agents", id.WaitForAgents)
	return s, nil
}

func (t *Transport) dialSSE(ctx context.Context, rawURL string, lost func(error)) (mcpClient, error) {
	var opts []transport.ClientOption
	if t.opts.HTTPClient != nil {
		opts = append(opts, transport.WithHTTPClient(t.opts.HTTPClient))
	}
	if len(t.opts.Headers) > 0 {
		opts = append(opts, transport.WithHeaders(t.opts.Headers))
	}
	c, err := mcpclient.NewSSEMCPClient(rawURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sse client: %w", err)
	}
	c.OnConnectionLost(lost)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start sse client: %w", err)
	}
	return c, nil
}

// session is one live connection. Callers serialize access.
type session struct {
	client      mcpClient
	agentID     string
	callTimeout time.Duration
	logger      *slog.Logger

	lost   atomic.Bool
	closed atomic.Bool
	// queued holds mentions that arrived together with the one already returned.
	queued []domain.InboundMessage
}

func (s *session) markLost(err error) {
	if s.lost.CompareAndSwap(false, true) && !s.closed.Load() {
		s.logger.Warn("hub event stream lost", "error", err)
	}
}

func (s *session) Poll(ctx context.Context, timeoutMs int) (*domain.InboundMessage, error) {
	if len(s.queued) > 0 {
		msg := s.queued[0]
		s.queued = s.queued[1:]
		return &msg, nil
	}

	wait := time.Duration(timeoutMs)*time.Millisecond + pollSlack
	text, err := s.call(ctx, "poll", toolWaitForMentions, map[string]any{"timeoutMs": timeoutMs}, wait)
	if err != nil {
		return nil, err
	}

	msgs, err := parseMentions(text)
	if err != nil {
		return nil, domain.NewTransportError(domain.TransportTransient, "poll", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	s.queued = append(s.queued, msgs[1:]...)
	return &msgs[0], nil
}

func (s *session) Send(ctx context.Context, reply domain.OutboundReply) error {
	if reply.ThreadID == "" || reply.RecipientID == "" {
		return domain.NewTransportError(domain.TransportFatal, "send",
			fmt.Errorf("reply needs a thread and recipient"))
	}
	_, err := s.call(ctx, "send", toolSendMessage, map[string]any{
		"threadId": reply.ThreadID,
		"content":  reply.Content,
		"mentions": []string{reply.RecipientID},
	}, s.callTimeout)
	return err
}

func (s *session) Ping(ctx context.Context) error {
	_, err := s.call(ctx, "ping", toolListAgents, map[string]any{"includeDetails": false}, s.callTimeout)
	return err
}

func (s *session) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var m map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &m); err != nil {
			return "", domain.NewTransportError(domain.TransportFatal, "call",
				fmt.Errorf("invalid arguments for %s: %w", name, err))
		}
	}
	return s.call(ctx, "call", name, m, s.callTimeout)
}

func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *session) call(ctx context.Context, op, name string, args map[string]any, timeout time.Duration) (string, error) {
	if s.closed.Load() || s.lost.Load() {
		return "", domain.NewTransportError(domain.TransportClosed, op, errSessionGone)
	}

	ctx, span := tracer.StartSpan(ctx, "hub."+op,
		trace.WithAttributes(tracer.StringAttr("hub.tool", name)),
	)
	defer span.End()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.client.CallTool(callCtx, req)
	if err != nil {
		err = s.classify(ctx, op, err)
		tracer.RecordError(span, err)
		return "", err
	}
	text := extractText(res)
	if res.IsError {
		err := domain.NewTransportError(domain.TransportTransient, op,
			fmt.Errorf("%s returned an error: %s", name, text))
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	return text, nil
}

// extractText joins the text parts of a tool result.
func extractText(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}
