package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coral-agents/internal/domain"
)

// mockMCPClient implements mcpClient for testing.
type mockMCPClient struct {
	mu       sync.Mutex
	calls    []mcp.CallToolRequest
	callFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	initErr  error
	closed   bool
}

func (m *mockMCPClient) Initialize(context.Context, mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if m.initErr != nil {
		return nil, m.initErr
	}
	return &mcp.InitializeResult{}, nil
}

func (m *mockMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.callFunc != nil {
		return m.callFunc(ctx, req)
	}
	return textResult("ok"), nil
}

func (m *mockMCPClient) Close() error {
	m.closed = true
	return nil
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(s)}}
}

func testIdentity() domain.HubIdentity {
	return domain.HubIdentity{AgentID: "yona", Description: "writes songs", WaitForAgents: 4}
}

func openWith(t *testing.T, mock *mockMCPClient) (*session, *string, func(error)) {
	t.Helper()
	var dialed string
	var lost func(error)
	tr := newTransportWithDialer(Options{}, slog.Default(), func(_ context.Context, rawURL string, l func(error)) (mcpClient, error) {
		dialed = rawURL
		lost = l
		return mock, nil
	})
	h, err := tr.Open(context.Background(), "http://localhost:5555/devmode/app/priv/session1/sse", testIdentity())
	require.NoError(t, err)
	return h.(*session), &dialed, lost
}

func TestSessionURL(t *testing.T) {
	raw, err := SessionURL("http://hub:5555/sse?x=1", testIdentity())
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "yona", q.Get("agentId"))
	assert.Equal(t, "4", q.Get("waitForAgents"))
	assert.Equal(t, "writes songs", q.Get("agentDescription"))
	assert.Equal(t, "1", q.Get("x"))

	_, err = SessionURL("ftp://hub", testIdentity())
	assert.Error(t, err)
	_, err = SessionURL("http://hub", domain.HubIdentity{})
	assert.Error(t, err)
}

func TestOpenBadEndpointIsFatal(t *testing.T) {
	tr := newTransportWithDialer(Options{}, slog.Default(), nil)
	_, err := tr.Open(context.Background(), "::bad", testIdentity())
	assert.Equal(t, domain.TransportFatal, domain.TransportKind(err))
}

func TestOpenInitializeFailureIsClosed(t *testing.T) {
	mock := &mockMCPClient{initErr: errors.New("handshake")}
	tr := newTransportWithDialer(Options{}, slog.Default(), func(context.Context, string, func(error)) (mcpClient, error) {
		return mock, nil
	})
	_, err := tr.Open(context.Background(), "http://hub/sse", testIdentity())
	assert.Equal(t, domain.TransportClosed, domain.TransportKind(err))
	assert.True(t, mock.closed)
}

func TestPollNoMessage(t *testing.T) {
	mock := &mockMCPClient{callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(noMessagesText), nil
	}}
	s, dialed, _ := openWith(t, mock)
	assert.Contains(t, *dialed, "agentId=yona")

	msg, err := s.Poll(context.Background(), 8000)
	require.NoError(t, err)
	assert.Nil(t, msg)

	require.Len(t, mock.calls, 1)
	assert.Equal(t, toolWaitForMentions, mock.calls[0].Params.Name)
	assert.Equal(t, map[string]any{"timeoutMs": 8000}, mock.calls[0].Params.Arguments)
}

func TestPollQueuesBatchedMentions(t *testing.T) {
	payload := `<messages>
<message id="m1" threadId="t1" senderId="alice" content="first"/>
<message id="m2" threadId="t1" senderId="bob" content="second"/>
</messages>`
	mock := &mockMCPClient{callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(payload), nil
	}}
	s, _, _ := openWith(t, mock)

	first, err := s.Poll(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, "first", first.Content)

	second, err := s.Poll(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, "bob", second.SenderID)
	assert.Len(t, mock.calls, 1, "second mention served from the queue")
}

func TestPollGarbageIsTransient(t *testing.T) {
	mock := &mockMCPClient{callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("¯\\_(ツ)_/¯"), nil
	}}
	s, _, _ := openWith(t, mock)
	_, err := s.Poll(context.Background(), 1000)
	assert.Equal(t, domain.TransportTransient, domain.TransportKind(err))
}

func TestSendUsesThreadAndMention(t *testing.T) {
	mock := &mockMCPClient{}
	s, _, _ := openWith(t, mock)

	err := s.Send(context.Background(), domain.OutboundReply{ThreadID: "t1", RecipientID: "alice", Content: "done"})
	require.NoError(t, err)
	require.Len(t, mock.calls, 1)
	assert.Equal(t, toolSendMessage, mock.calls[0].Params.Name)
	assert.Equal(t, map[string]any{
		"threadId": "t1",
		"content":  "done",
		"mentions": []string{"alice"},
	}, mock.calls[0].Params.Arguments)

	err = s.Send(context.Background(), domain.OutboundReply{Content: "nowhere"})
	assert.Equal(t, domain.TransportFatal, domain.TransportKind(err))
}

func TestPingListsAgents(t *testing.T) {
	mock := &mockMCPClient{}
	s, _, _ := openWith(t, mock)
	require.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, toolListAgents, mock.calls[0].Params.Name)
	assert.Equal(t, map[string]any{"includeDetails": false}, mock.calls[0].Params.Arguments)
}

func TestCallPassesArguments(t *testing.T) {
	mock := &mockMCPClient{callFunc: func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(fmt.Sprintf("called %s", req.Params.Name)), nil
	}}
	s, _, _ := openWith(t, mock)
	out, err := s.Call(context.Background(), "create_thread", json.RawMessage(`{"threadName":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "called create_thread", out)

	_, err = s.Call(context.Background(), "create_thread", json.RawMessage(`{`))
	assert.Equal(t, domain.TransportFatal, domain.TransportKind(err))
}

func TestLostStreamYieldsConnectionClosed(t *testing.T) {
	mock := &mockMCPClient{}
	s, _, lost := openWith(t, mock)
	lost(io.EOF)

	_, err := s.Poll(context.Background(), 1000)
	assert.Equal(t, domain.TransportClosed, domain.TransportKind(err))
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
	assert.Empty(t, mock.calls, "no request on a lost stream")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.TransportErrorKind
	}{
		{"eof", fmt.Errorf("read: %w", io.EOF), domain.TransportClosed},
		{"deadline", context.DeadlineExceeded, domain.TransportClosed},
		{"other", errors.New("bad gateway"), domain.TransportTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockMCPClient{callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, tt.err
			}}
			s, _, _ := openWith(t, mock)
			_, err := s.Poll(context.Background(), 10)
			assert.Equal(t, tt.want, domain.TransportKind(err))
		})
	}
}

func TestToolErrorResultIsTransient(t *testing.T) {
	mock := &mockMCPClient{callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := textResult("thread not found")
		res.IsError = true
		return res, nil
	}}
	s, _, _ := openWith(t, mock)
	err := s.Send(context.Background(), domain.OutboundReply{ThreadID: "t", RecipientID: "r", Content: "c"})
	assert.Equal(t, domain.TransportTransient, domain.TransportKind(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	mock := &mockMCPClient{}
	s, _, _ := openWith(t, mock)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, mock.closed)

	err := s.Ping(context.Background())
	assert.Equal(t, domain.TransportClosed, domain.TransportKind(err))
}
