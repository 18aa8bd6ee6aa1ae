package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/tracer"
)

// Responder produces the text answer to a mention.
type Responder interface {
	Respond(ctx context.Context, msg domain.InboundMessage) (string, error)
}

// emptyResponse is sent when the model answers with nothing.
const emptyResponse = "I have nothing to add to this thread right now."

// Dispatcher turns every mention into exactly one reply.
type Dispatcher struct {
	agentID   string
	responder Responder
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. A non-positive timeout leaves the
// handle bounded only by ctx.
func NewDispatcher(agentID string, responder Responder, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{agentID: agentID, responder: responder, timeout: timeout, logger: logger}
}

// Handle answers msg. It never fails: errors and panics inside the responder
// are turned into an error reply on the same thread to the same sender.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) (reply domain.OutboundReply) {
	ctx, span := tracer.StartSpan(ctx, "dispatch.handle",
		trace.WithAttributes(
			tracer.StringAttr("thread.id", msg.ThreadID),
			tracer.StringAttr("sender.id", msg.SenderID),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			tracer.RecordError(span, err)
			d.logger.Error("handler panicked", "thread", msg.ThreadID, "panic", r, "stack", string(debug.Stack()))
			reply = errorReply(msg, err)
		}
	}()

	ctx = domain.ContextWithAgentID(domain.ContextWithMention(ctx, msg), d.agentID)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	text, err := d.responder.Respond(ctx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.NewDomainError("Dispatcher.Handle", domain.ErrTimeout, err.Error())
		}
		tracer.RecordError(span, err)
		d.logger.Error("handler failed", "thread", msg.ThreadID, "sender", msg.SenderID,
			"code", domain.ErrorCodeOf(err), "error", err)
		return errorReply(msg, err)
	}

	if strings.TrimSpace(text) == "" {
		text = emptyResponse
	}
	tracer.SetOK(span)
	d.logger.Info("mention handled", "thread", msg.ThreadID, "duration", time.Since(start))
	return domain.ReplyTo(msg, text)
}

func errorReply(msg domain.InboundMessage, err error) domain.OutboundReply {
	r := domain.ReplyTo(msg, "Sorry, I could not complete that request: "+err.Error())
	r.IsError = true
	return r
}
