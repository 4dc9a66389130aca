package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/webbridge/internal/logging"
)

// CommandFunc answers one request. The returned value becomes the reply
// payload; returning a *Future defers the reply until the future settles.
type CommandFunc func(ctx context.Context, args any) (any, error)

// Commands maps channel names to commands.
type Commands map[string]CommandFunc

// Handle adapts a typed function to CommandFunc, decoding the request
// payload into A.
func Handle[A, R any](fn func(ctx context.Context, args A) (R, error)) CommandFunc {
	return func(ctx context.Context, raw any) (any, error) {
		var args A
		if raw != nil {
			if err := Decode(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		return fn(ctx, args)
	}
}

// Responder executes registered commands for inbound requests and posts
// their replies.
type Responder struct {
	transport Transport
	logger    *zap.Logger
	metrics   *Metrics
	limiter   *rate.Limiter
	inline    bool

	mu       sync.RWMutex
	commands Commands
	closed   bool

	// wg.Add happens under mu so it cannot race the Wait in Close.
	wg sync.WaitGroup
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// Inline runs commands on the receiving goroutine. Commands returning a
// *Future are still awaited on a separate goroutine.
func Inline() ResponderOption {
	return func(r *Responder) { r.inline = true }
}

// WithRateLimit rejects requests beyond l with a "Rate limit exceeded." failure.
func WithRateLimit(l *rate.Limiter) ResponderOption {
	return func(r *Responder) { r.limiter = l }
}

// WithResponderLogger sets the responder logger.
func WithResponderLogger(l *zap.Logger) ResponderOption {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithResponderMetrics enables command metrics.
func WithResponderMetrics(m *Metrics) ResponderOption {
	return func(r *Responder) { r.metrics = m }
}

// NewResponder creates a responder replying on t.
func NewResponder(t Transport, opts ...ResponderOption) *Responder {
	r := &Responder{
		transport: t,
		logger:    zap.NewNop(),
		commands:  make(Commands),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers fn for channel, replacing any previous command.
func (r *Responder) Handle(channel string, fn CommandFunc) {
	r.mu.Lock()
	r.commands[channel] = fn
	r.mu.Unlock()
}

// AddCommands registers every entry of cmds.
func (r *Responder) AddCommands(cmds ...Commands) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range cmds {
		for ch, fn := range set {
			r.commands[ch] = fn
		}
	}
}

// Remove unregisters channel.
func (r *Responder) Remove(channel string) {
	r.mu.Lock()
	delete(r.commands, channel)
	r.mu.Unlock()
}

// Handles reports whether a command is registered for channel.
func (r *Responder) Handles(channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[channel]
	return ok
}

// Channels returns the registered channel names, sorted.
func (r *Responder) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.commands))
	for ch := range r.commands {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Receive handles one inbound request. Requests for unknown channels are
// logged and left unanswered, as is everything arriving after Close.
func (r *Responder) Receive(ctx context.Context, env Envelope) {
	ctx = logging.WithChannel(ctx, env.Channel, env.Seq)
	r.logger.Debug("request received", logFields(ctx, zap.Bool("wants_reply", env.WantsReply))...)

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.logger.Debug("dropping request after close", logFields(ctx)...)
		return
	}
	fn := r.commands[env.Channel]
	if fn != nil {
		r.wg.Add(1)
	}
	r.mu.RUnlock()

	if fn == nil {
		r.metrics.command(env.Channel, CommandUnknown)
		r.logger.Warn("no command registered", logFields(ctx)...)
		return
	}

	if r.limiter != nil && !r.limiter.Allow() {
		r.wg.Done()
		r.metrics.command(env.Channel, CommandRateLimited)
		r.logger.Warn("request rate limited", logFields(ctx)...)
		r.reply(ctx, env, failureReply(env, DescRateLimited))
		return
	}

	if r.inline {
		defer r.wg.Done()
		r.execute(ctx, env, fn)
		return
	}
	go func() {
		defer r.wg.Done()
		r.execute(ctx, env, fn)
	}()
}

// Wait blocks until every in-flight command has replied.
func (r *Responder) Wait() {
	r.wg.Wait()
}

// Close stops accepting requests and waits for in-flight commands.
func (r *Responder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Responder) execute(ctx context.Context, env Envelope, fn CommandFunc) {
	start := time.Now()
	result, err := r.invoke(ctx, env, fn)
	if err != nil {
		r.finish(ctx, env, start, failureReply(env, err.Error()))
		return
	}

	fut, ok := result.(*Future)
	if !ok {
		r.finish(ctx, env, start, env.ReplyTo(result))
		return
	}
	if !r.inline {
		r.finish(ctx, env, start, r.await(ctx, env, fut))
		return
	}
	// the caller's own count keeps wg above zero here
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.finish(ctx, env, start, r.await(ctx, env, fut))
	}()
}

func (r *Responder) invoke(ctx context.Context, env Envelope, fn CommandFunc) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("command panicked", logFields(ctx, zap.Any("panic", p))...)
			err = fmt.Errorf("%v", p)
		}
	}()
	return fn(ctx, env.Payload())
}

// await turns a settled future into the reply for env, carrying the failure
// sentinel through unchanged.
func (r *Responder) await(ctx context.Context, env Envelope, fut *Future) Envelope {
	settled, err := fut.Await(ctx)
	if err != nil {
		return failureReply(env, DescCanceled)
	}
	if fail, ok := settled.Failure(); ok {
		return failureReply(env, fail.Description)
	}
	return env.ReplyTo(settled.Payload())
}

func (r *Responder) finish(ctx context.Context, env Envelope, start time.Time, reply Envelope) {
	status := CommandOK
	if fail, ok := reply.Failure(); ok {
		status = CommandError
		r.logger.Warn("command failed", logFields(ctx, zap.String("description", fail.Description))...)
	}
	r.metrics.command(env.Channel, status)
	r.logger.Debug("command finished", logFields(ctx, zap.Duration("elapsed", time.Since(start)))...)

	r.reply(ctx, env, reply)
}

func (r *Responder) reply(ctx context.Context, req, reply Envelope) {
	if !req.WantsReply {
		return
	}
	if r.transport == nil {
		r.logger.Error("cannot reply", logFields(ctx, zap.Error(ErrNoTransport))...)
		return
	}
	if err := r.transport.Post(ctx, reply); err != nil {
		r.logger.Error("posting reply failed", logFields(ctx, zap.Error(err))...)
	}
}
