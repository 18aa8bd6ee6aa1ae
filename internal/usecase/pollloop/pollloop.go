// Package pollloop keeps one agent present on the hub: it polls for
// mentions, hands each one to a handler, sends the reply and reconnects when
// the hub drops the session.
package pollloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"coral-agents/internal/domain"
	"coral-agents/internal/usecase/backoff"
)

// Handler turns one mention into one reply. It must not return without a reply.
type Handler interface {
	Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply {
	return f(ctx, msg)
}

// Config holds the loop's timing. Zero values fall back to Defaults.
type Config struct {
	Endpoint string
	Identity domain.HubIdentity
	// PollTimeout is the hub-side wait per poll. It must stay below the hub's
	// idle-disconnect threshold.
	PollTimeout time.Duration
	// Reconnect schedules the delay after a closed connection. Max bounds the
	// number of consecutive reconnects before Run gives up.
	Reconnect backoff.Policy
	// TransientDelay is the fixed pause after any other poll error.
	TransientDelay time.Duration
	// TransientLimit recycles the session after this many consecutive
	// transient errors. Zero never recycles.
	TransientLimit int
	// KeepaliveInterval enables background pings when positive.
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	SendTimeout       time.Duration
}

// Defaults returns the timings the agents run with out of the box.
func Defaults() Config {
	return Config{
		PollTimeout:      8 * time.Second,
		Reconnect:        backoff.Policy{Kind: backoff.KindLinear, Base: 5 * time.Second, Cap: 30 * time.Second, Max: 5},
		TransientDelay:   5 * time.Second,
		TransientLimit:   3,
		KeepaliveTimeout: 4 * time.Second,
		SendTimeout:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := Defaults()
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.Reconnect.Base <= 0 {
		c.Reconnect = d.Reconnect
	}
	if c.TransientDelay <= 0 {
		c.TransientDelay = d.TransientDelay
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = d.KeepaliveTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	return c
}

// Deps are the loop's collaborators.
type Deps struct {
	Transport domain.HubTransport
	Handler   Handler
	Logger    *slog.Logger
	// Sleep replaces backoff.Sleep; tests use it to skip real waits.
	Sleep backoff.SleepFunc
}

// Session is one logical connection. A new transport connection always gets
// a new Session.
type Session struct {
	ID       string
	Endpoint string
	Identity domain.HubIdentity
	OpenedAt time.Time

	handle domain.HubHandle
	closed atomic.Bool
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// Closed reports whether the session's transport has been released.
func (s *Session) Closed() bool { return s.closed.Load() }

// Stats counts loop activity.
type Stats struct {
	Polls      int64
	Messages   int64
	Reconnects int64
	Transient  int64
}

// Loop drives one agent's session.
type Loop struct {
	cfg       Config
	transport domain.HubTransport
	handler   Handler
	logger    *slog.Logger
	sleep     backoff.SleepFunc

	// mu serializes every use of the transport handle: polls, replies,
	// keepalive pings and hub tool calls.
	mu      sync.Mutex
	session *Session

	polls, messages, reconnects, transient atomic.Int64
}

// New creates a Loop.
func New(cfg Config, deps Deps) *Loop {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = backoff.Sleep
	}
	return &Loop{
		cfg:       cfg.withDefaults(),
		transport: deps.Transport,
		handler:   deps.Handler,
		logger:    logger.With("agent", cfg.Identity.AgentID),
		sleep:     sleep,
	}
}

// Run polls until ctx is cancelled (nil) or reconnects are exhausted
// (ErrReconnectExhausted). A fatal transport error on connect is returned as is.
func (l *Loop) Run(ctx context.Context) error {
	defer l.dropSession()

	budget := backoff.NewBudget(l.cfg.Reconnect)
	transientStreak := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		if !l.connected() {
			err := l.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if domain.TransportKind(err) == domain.TransportFatal {
					return domain.WrapOp("Loop.Run", err)
				}
				if !l.waitReconnect(ctx, budget, err) {
					return l.exhausted(budget, err)
				}
				continue
			}
		}

		msg, err := l.Poll(ctx, l.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if domain.TransportKind(err) == domain.TransportTransient {
				transientStreak++
				l.transient.Add(1)
				l.logger.Error("poll failed, retrying", "error", err, "delay", l.cfg.TransientDelay)
				if l.cfg.TransientLimit > 0 && transientStreak >= l.cfg.TransientLimit {
					l.logger.Warn("recycling hub session after repeated errors", "errors", transientStreak)
					l.dropSession()
					transientStreak = 0
				}
				if l.sleep(ctx, l.cfg.TransientDelay) != nil {
					return nil
				}
				continue
			}

			l.dropSession()
			if !l.waitReconnect(ctx, budget, err) {
				return l.exhausted(budget, err)
			}
			continue
		}

		budget.Reset()
		transientStreak = 0
		if msg == nil {
			continue
		}
		l.dispatch(ctx, *msg)
	}
}

// Poll waits for one mention on the current session. timeout is the wait
// the hub is asked for; the transport may allow a few seconds of slack on
// top of it for the response to arrive, so the call can return a little
// later than timeout.
func (l *Loop) Poll(ctx context.Context, timeout time.Duration) (*domain.InboundMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil || l.session.closed.Load() {
		return nil, domain.NewTransportError(domain.TransportClosed, "poll", domain.ErrNotConnected)
	}
	l.polls.Add(1)
	return l.session.handle.Poll(ctx, int(timeout/time.Millisecond))
}

// Send delivers a reply through the current session.
func (l *Loop) Send(ctx context.Context, reply domain.OutboundReply) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil || l.session.closed.Load() {
		return domain.NewTransportError(domain.TransportClosed, "send", domain.ErrNotConnected)
	}
	sendCtx, cancel := context.WithTimeout(ctx, l.cfg.SendTimeout)
	defer cancel()
	return l.session.handle.Send(sendCtx, reply)
}

// CallHub invokes a hub tool through the current session.
func (l *Loop) CallHub(ctx context.Context, name string, args json.RawMessage) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil || l.session.closed.Load() {
		return "", domain.NewTransportError(domain.TransportClosed, "call", domain.ErrNotConnected)
	}
	return l.session.handle.Call(ctx, name, args)
}

// Session returns the current session, or nil while disconnected.
func (l *Loop) Session() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Polls:      l.polls.Load(),
		Messages:   l.messages.Load(),
		Reconnects: l.reconnects.Load(),
		Transient:  l.transient.Load(),
	}
}

func (l *Loop) dispatch(ctx context.Context, msg domain.InboundMessage) {
	l.messages.Add(1)
	l.logger.Info("mention received", "thread", msg.ThreadID, "sender", msg.SenderID)

	reply := l.handler.Handle(ctx, msg)
	if reply.ThreadID == "" {
		reply.ThreadID = msg.ThreadID
	}
	if reply.RecipientID == "" {
		reply.RecipientID = msg.SenderID
	}

	if err := l.Send(ctx, reply); err != nil {
		l.logger.Error("reply not delivered", "thread", reply.ThreadID, "recipient", reply.RecipientID, "error", err)
	}
}

func (l *Loop) connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil && !l.session.closed.Load()
}

func (l *Loop) connect(ctx context.Context) error {
	handle, err := l.transport.Open(ctx, l.cfg.Endpoint, l.cfg.Identity)
	if err != nil {
		return err
	}

	now := time.Now()
	s := &Session{
		ID:       newSessionID(now),
		Endpoint: l.cfg.Endpoint,
		Identity: l.cfg.Identity,
		OpenedAt: now,
		handle:   handle,
	}

	l.mu.Lock()
	l.session = s
	l.mu.Unlock()

	if l.cfg.KeepaliveInterval > 0 {
		kctx, cancel := context.WithCancel(ctx)
		s.stop = cancel
		s.wg.Add(1)
		go l.keepalive(kctx, s)
	}

	l.logger.Info("connected to hub", "session", s.ID)
	return nil
}

// dropSession closes the current session and waits for its keepalive to exit.
func (l *Loop) dropSession() {
	l.mu.Lock()
	s := l.session
	l.session = nil
	if s != nil && s.closed.CompareAndSwap(false, true) {
		if err := s.handle.Close(); err != nil {
			l.logger.Debug("hub close", "session", s.ID, "error", err)
		}
	}
	l.mu.Unlock()

	if s != nil && s.stop != nil {
		s.stop()
		s.wg.Wait()
	}
}

// keepalive pings the hub between polls. A tick that finds the transport
// busy is skipped since the in-flight request already counts as activity.
func (l *Loop) keepalive(ctx context.Context, s *Session) {
	defer s.wg.Done()

	ticker := time.NewTicker(l.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !l.mu.TryLock() {
			continue
		}
		if s.closed.Load() || l.session != s {
			l.mu.Unlock()
			return
		}
		pctx, cancel := context.WithTimeout(ctx, l.cfg.KeepaliveTimeout)
		err := s.handle.Ping(pctx)
		cancel()
		l.mu.Unlock()

		if err != nil {
			l.logger.Debug("keepalive ping failed", "session", s.ID, "error", err)
		}
	}
}

func (l *Loop) waitReconnect(ctx context.Context, budget *backoff.Budget, cause error) bool {
	delay, ok := budget.Next()
	if !ok {
		return false
	}
	l.reconnects.Add(1)
	l.logger.Warn("hub connection lost, reconnecting",
		"attempt", budget.Attempt(), "max", l.cfg.Reconnect.Max, "delay", delay, "error", cause)
	// A cancelled sleep is picked up by the ctx check at the top of Run.
	_ = l.sleep(ctx, delay)
	return true
}

func (l *Loop) exhausted(budget *backoff.Budget, cause error) error {
	l.logger.Error("giving up on hub connection", "attempts", budget.Attempt()-1, "error", cause)
	return domain.NewSubSystemError("hub", "Loop.Run", domain.ErrReconnectExhausted,
		fmt.Sprintf("after %d reconnects: %v", budget.Attempt()-1, cause))
}

func newSessionID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
