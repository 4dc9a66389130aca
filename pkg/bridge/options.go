package bridge

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures a Center.
type Option func(*Center)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(c *Center) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Center) { c.metrics = m }
}

// WithTracer overrides the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Center) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithDefaultTimeout applies d to every Send that does not set its own
// timeout. Zero keeps the "wait forever" behavior.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Center) { c.defaultTimeout = d }
}

// WithResponderOptions configures the Center's own responder.
func WithResponderOptions(opts ...ResponderOption) Option {
	return func(c *Center) { c.responderOpts = append(c.responderOpts, opts...) }
}

// SendOption configures one Send, Call or Post.
type SendOption func(*sendOptions)

type sendOptions struct {
	correlated bool
	timeout    time.Duration
	timeoutSet bool
	extra      map[string]any
}

// Uncorrelated addresses the request to every waiter on the channel instead
// of a single sequence-qualified waiter. No sequence id is assigned.
func Uncorrelated() SendOption {
	return func(o *sendOptions) { o.correlated = false }
}

// WithTimeout settles the future with an "Operate timeout." failure if no
// reply arrives within d. Zero waits forever.
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// WithExtra merges extra into the top level of the posted envelope.
func WithExtra(extra map[string]any) SendOption {
	return func(o *sendOptions) {
		if o.extra == nil {
			o.extra = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			o.extra[k] = v
		}
	}
}

func (c *Center) sendOptions(opts []SendOption) sendOptions {
	o := sendOptions{correlated: true}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.timeoutSet {
		o.timeout = c.defaultTimeout
	}
	if o.timeout < 0 {
		o.timeout = 0
	}
	return o
}
