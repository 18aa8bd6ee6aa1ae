package hub

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/mark3labs/mcp-go/client/transport"

	"coral-agents/internal/domain"
)

var errSessionGone = errors.New("hub session is no longer usable")

// classify turns a client error into a TransportError. Stream loss is known
// from the connection-lost callback, so no error text is inspected.
func (s *session) classify(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return domain.NewTransportError(domain.TransportFatal, op, parent.Err())
	}
	if s.lost.Load() || s.closed.Load() || isConnectionError(err) {
		return domain.NewTransportError(domain.TransportClosed, op, err)
	}
	// The hub bounds its own wait; missing the local deadline means the
	// response channel is dead.
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransportError(domain.TransportClosed, op, err)
	}
	return domain.NewTransportError(domain.TransportTransient, op, err)
}

func isConnectionError(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, transport.ErrTransportClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
