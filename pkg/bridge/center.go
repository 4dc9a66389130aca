package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/webbridge/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/webbridge/pkg/bridge"

// ErrClosed is returned by Post after Close.
var ErrClosed = errors.New("bridge: closed")

// Center pairs outbound requests with inbound replies, routes pushes to
// subscriptions and answers peer requests through its Responder.
//
// A Center is safe for concurrent use. Handlers and future callbacks are
// always invoked without internal locks held.
type Center struct {
	transport      Transport
	logger         *zap.Logger
	metrics        *Metrics
	tracer         trace.Tracer
	defaultTimeout time.Duration
	responderOpts  []ResponderOption
	responder      *Responder

	seq atomic.Uint64

	mu      sync.Mutex
	pending map[RoutingKey][]*pendingRequest
	subs    map[RoutingKey][]*Subscription
	closed  bool
}

type pendingRequest struct {
	key       RoutingKey
	future    *Future
	createdAt time.Time
	timer     *time.Timer
}

// Stats is a point-in-time view of a Center.
type Stats struct {
	Pending       int    `json:"pending"`
	Subscriptions int    `json:"subscriptions"`
	Commands      int    `json:"commands"`
	LastSeq       uint64 `json:"last_seq"`
	Closed        bool   `json:"closed"`
}

// NewCenter creates a Center posting on t.
func NewCenter(t Transport, opts ...Option) *Center {
	c := &Center{
		transport: t,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		pending:   make(map[RoutingKey][]*pendingRequest),
		subs:      make(map[RoutingKey][]*Subscription),
	}
	for _, opt := range opts {
		opt(c)
	}

	ropts := []ResponderOption{
		WithResponderLogger(c.logger),
		WithResponderMetrics(c.metrics),
	}
	c.responder = NewResponder(t, append(ropts, c.responderOpts...)...)
	return c
}

// Responder returns the Center's responder.
func (c *Center) Responder() *Responder { return c.responder }

// Handle registers fn as the command for channel.
func (c *Center) Handle(channel string, fn CommandFunc) {
	c.responder.Handle(channel, fn)
}

// AddCommands registers every command in cmds.
func (c *Center) AddCommands(cmds ...Commands) {
	c.responder.AddCommands(cmds...)
}

// Send posts a reply-expecting request and returns its future. The future
// always settles: with the peer's reply, or with a failure envelope on
// timeout, transport error, cancellation or Close.
func (c *Center) Send(ctx context.Context, channel string, args any, opts ...SendOption) *Future {
	o := c.sendOptions(opts)
	env := Envelope{
		Channel:    channel,
		Args:       args,
		WantsReply: true,
		Correlated: o.correlated,
		Timeout:    o.timeout,
		Extra:      o.extra,
	}
	if env.Correlated {
		env.Seq = c.seq.Add(1)
	}

	ctx, span := c.tracer.Start(ctx, "bridge.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("bridge.channel", channel),
			attribute.Int64("bridge.seq", int64(env.Seq)),
			attribute.Bool("bridge.correlated", env.Correlated),
		),
	)

	f := newFuture(env)
	p := &pendingRequest{key: env.Key(), future: f, createdAt: time.Now()}
	f.pending = p
	f.onSettle = func(reply Envelope, outcome string) {
		if fail, ok := reply.Failure(); ok {
			span.SetStatus(codes.Error, fail.Description)
		}
		span.SetAttributes(attribute.String("bridge.outcome", outcome))
		span.End()
		c.metrics.settled(channel, outcome, time.Since(p.createdAt))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		f.settle(failureReply(env, DescClosed), OutcomeClosed)
		return f
	}
	c.pending[p.key] = append(c.pending[p.key], p)
	if o.timeout > 0 {
		p.timer = time.AfterFunc(o.timeout, func() {
			if c.abandon(p, DescTimeout, OutcomeTimeout) {
				c.logger.Warn("request timed out",
					zap.String("channel", channel),
					zap.Uint64("seq", env.Seq),
					zap.Duration("timeout", o.timeout))
			}
		})
	}
	c.mu.Unlock()
	c.metrics.pendingAdd(1)

	c.logger.Debug("sending request",
		zap.String("channel", channel),
		zap.Uint64("seq", env.Seq),
		zap.Bool("correlated", env.Correlated),
		logging.Payload(args))

	if err := c.post(ctx, env); err != nil {
		if c.abandon(p, err.Error(), OutcomeTransportError) {
			c.logger.Warn("request post failed",
				zap.String("channel", channel),
				zap.Uint64("seq", env.Seq),
				zap.Error(err))
		}
	}
	return f
}

// Post sends a fire-and-forget envelope. It returns as soon as the
// transport accepts it; no pending state is created.
func (c *Center) Post(ctx context.Context, channel string, args any, opts ...SendOption) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	o := c.sendOptions(opts)
	env := Envelope{
		Channel: channel,
		Args:    args,
		Extra:   o.extra,
	}
	if err := c.post(ctx, env); err != nil {
		return fmt.Errorf("posting %s: %w", channel, err)
	}
	return nil
}

// Call sends a request and waits for it to settle. If ctx ends first the
// request is withdrawn, its future settles with an "Operate canceled."
// failure, and Call returns that envelope together with ctx.Err().
func (c *Center) Call(ctx context.Context, channel string, args any, opts ...SendOption) (Envelope, error) {
	f := c.Send(ctx, channel, args, opts...)
	select {
	case <-f.Done():
		return f.Result(), nil
	case <-ctx.Done():
		if c.abandon(f.pending, DescCanceled, OutcomeCanceled) {
			return f.Result(), ctx.Err()
		}
		// the reply won the race
		return f.Result(), nil
	}
}

// Invoke calls channel and decodes the reply payload into R. A failure
// envelope is returned as a *FailureError.
func Invoke[R any](ctx context.Context, c *Center, channel string, args any, opts ...SendOption) (R, error) {
	var out R
	reply, err := c.Call(ctx, channel, args, opts...)
	if err != nil {
		return out, err
	}
	if fail, ok := reply.Failure(); ok {
		return out, &FailureError{Channel: channel, Description: fail.Description}
	}
	if reply.Payload() == nil {
		return out, nil
	}
	if err := Decode(reply.Payload(), &out); err != nil {
		return out, fmt.Errorf("decoding %s reply: %w", channel, err)
	}
	return out, nil
}

// Receive routes one inbound envelope. Requests for registered commands go
// to the responder; otherwise the envelope settles pending requests on its
// routing key, or is delivered to subscriptions. Unmatched envelopes are
// logged and dropped.
//
// A peer request never settles a local pending request or fires a reply
// subscription, even when the routing keys collide: seq numbers are
// assigned independently on each side.
func (c *Center) Receive(ctx context.Context, env Envelope) {
	ctx = logging.WithChannel(ctx, env.Channel, env.Seq)
	c.logger.Debug("received envelope", logFields(ctx,
		zap.Bool("response", env.Response),
		logging.Payload(env.Payload()))...)

	if !env.Response && c.responder.Handles(env.Channel) {
		c.metrics.received(RouteCommand)
		c.responder.Receive(ctx, env)
		return
	}

	key := env.Key()
	if isPeerRequest(env) {
		// pending calls and reply subscriptions live in the local seq space
		key = KeyFor(env.Channel, 0)
	} else if c.resolve(key, env) {
		c.metrics.received(RoutePending)
		return
	}
	if c.dispatch(ctx, key, env) {
		c.metrics.received(RouteSubscription)
		return
	}

	c.metrics.received(RouteUnmatched)
	c.logger.Warn("no handler for envelope", logFields(ctx,
		zap.String("key", key.String()),
		zap.Bool("wants_reply", env.WantsReply))...)
}

// isPeerRequest reports whether env asks this side for a reply. Replies from
// peers that predate the response flag still carry data and are let through.
func isPeerRequest(env Envelope) bool {
	return !env.Response && env.WantsReply && env.Data == nil
}

// logFields prefixes fields with the correlation data carried by ctx.
func logFields(ctx context.Context, fields ...zap.Field) []zap.Field {
	return append(logging.ContextFields(ctx), fields...)
}

// resolve settles every pending request registered on key with env.
func (c *Center) resolve(key RoutingKey, env Envelope) bool {
	c.mu.Lock()
	waiters := c.pending[key]
	delete(c.pending, key)
	for _, p := range waiters {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	c.mu.Unlock()

	if len(waiters) == 0 {
		return false
	}
	c.metrics.pendingAdd(-len(waiters))
	for _, p := range waiters {
		p.future.settle(env, OutcomeReply)
	}
	return true
}

// abandon removes p and settles it with a failure. It reports false when p
// was already gone, which means someone else settled it.
func (c *Center) abandon(p *pendingRequest, desc, outcome string) bool {
	if p == nil {
		return false
	}

	c.mu.Lock()
	removed := c.removePendingLocked(p)
	if removed && p.timer != nil {
		p.timer.Stop()
	}
	c.mu.Unlock()

	if !removed {
		return false
	}
	c.metrics.pendingAdd(-1)
	return p.future.settle(failureReply(p.future.req, desc), outcome)
}

func (c *Center) removePendingLocked(p *pendingRequest) bool {
	waiters := c.pending[p.key]
	for i, w := range waiters {
		if w != p {
			continue
		}
		if len(waiters) == 1 {
			delete(c.pending, p.key)
		} else {
			c.pending[p.key] = append(waiters[:i:i], waiters[i+1:]...)
		}
		return true
	}
	return false
}

func (c *Center) post(ctx context.Context, env Envelope) error {
	if c.transport == nil {
		return ErrNoTransport
	}
	if err := c.transport.Post(ctx, env); err != nil {
		return err
	}
	kind := "request"
	if !env.WantsReply {
		kind = "notify"
	}
	c.metrics.sent(kind)
	return nil
}

// Stats returns current counters.
func (c *Center) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		LastSeq:  c.seq.Load(),
		Closed:   c.closed,
		Commands: len(c.responder.Channels()),
	}
	for _, ws := range c.pending {
		s.Pending += len(ws)
	}
	for _, subs := range c.subs {
		s.Subscriptions += len(subs)
	}
	return s
}

// Close settles every outstanding future with a "Bridge closed." failure and
// drops all subscriptions. Later sends settle immediately with the same
// failure. Close stops the responder and waits for in-flight commands to
// finish; requests arriving afterwards are dropped.
func (c *Center) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var waiters []*pendingRequest
	for _, ws := range c.pending {
		waiters = append(waiters, ws...)
	}
	c.pending = make(map[RoutingKey][]*pendingRequest)
	c.subs = make(map[RoutingKey][]*Subscription)
	c.mu.Unlock()

	for _, p := range waiters {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.future.settle(failureReply(p.future.req, DescClosed), OutcomeClosed)
	}
	c.metrics.pendingAdd(-len(waiters))
	if len(waiters) > 0 {
		c.logger.Info("closed with pending requests", zap.Int("pending", len(waiters)))
	}

	c.responder.Close()
	return nil
}
