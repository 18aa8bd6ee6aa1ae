package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// HubIdentity is how an agent declares itself to the hub.
type HubIdentity struct {
	AgentID     string
	Description string
	// WaitForAgents is the minimum number of peers the hub waits for before
	// the session becomes usable.
	WaitForAgents int
}

// InboundMessage is a mention received from the hub. Immutable once received.
type InboundMessage struct {
	ThreadID   string   `json:"thread_id"`
	ThreadName string   `json:"thread_name,omitempty"`
	SenderID   string   `json:"sender_id"`
	MessageID  string   `json:"message_id,omitempty"`
	Content    string   `json:"content"`
	Mentions   []string `json:"mentions,omitempty"`
}

// OutboundReply is sent back to the hub. Delivery is not acknowledged.
type OutboundReply struct {
	ThreadID    string `json:"thread_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	IsError     bool   `json:"is_error,omitempty"`
}

// ReplyTo builds a reply addressed to the sender and thread of msg.
func ReplyTo(msg InboundMessage, content string) OutboundReply {
	return OutboundReply{ThreadID: msg.ThreadID, RecipientID: msg.SenderID, Content: content}
}

// HubTransport opens connections to the hub.
type HubTransport interface {
	Open(ctx context.Context, endpoint string, id HubIdentity) (HubHandle, error)
}

// HubHandle is one live transport connection. It is not safe for concurrent
// use; callers serialize access.
type HubHandle interface {
	// Poll waits at most timeoutMs for a mention. A nil message with a nil
	// error means nothing arrived.
	Poll(ctx context.Context, timeoutMs int) (*InboundMessage, error)
	Send(ctx context.Context, reply OutboundReply) error
	// Ping is a cheap request that keeps the connection from idling out.
	Ping(ctx context.Context) error
	// Call invokes an arbitrary hub tool and returns its text result.
	Call(ctx context.Context, name string, args json.RawMessage) (string, error)
	Close() error
}

// TransportErrorKind classifies failures at the hub boundary.
type TransportErrorKind int

const (
	// TransportClosed means the remote side dropped the session; reconnect.
	TransportClosed TransportErrorKind = iota + 1
	// TransportTransient is a recoverable I/O or decode problem on a live session.
	TransportTransient
	// TransportFatal cannot be recovered by retrying.
	TransportFatal
)

func (k TransportErrorKind) String() string {
	switch k {
	case TransportClosed:
		return "connection_closed"
	case TransportTransient:
		return "transient_io"
	case TransportFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// TransportError is the only error type a HubHandle returns.
type TransportError struct {
	Kind TransportErrorKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("hub %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err with a kind. Closed errors also match ErrConnectionClosed.
func NewTransportError(kind TransportErrorKind, op string, err error) *TransportError {
	if err == nil {
		err = errors.New(kind.String())
	}
	if kind == TransportClosed && !errors.Is(err, ErrConnectionClosed) {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return &TransportError{Kind: kind, Op: op, Err: err}
}

// TransportKind returns the kind of err, or TransportTransient when err is
// not a TransportError.
func TransportKind(err error) TransportErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return TransportTransient
}
