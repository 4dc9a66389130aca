package bridge

import (
	"context"
	"errors"
)

// ErrNoTransport is returned when a Center or Responder has no transport to post on.
var ErrNoTransport = errors.New("bridge: no transport")

// Transport is the one-way primitive the Center is layered on. Post must
// preserve order between calls from a single goroutine and must not wait for
// the peer to process the envelope. A non-nil error means delivery failed.
type Transport interface {
	Post(ctx context.Context, env Envelope) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, env Envelope) error

// Post implements Transport.
func (f TransportFunc) Post(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// InboundFunc receives envelopes in arrival order.
type InboundFunc func(ctx context.Context, env Envelope)

// Listener is the inbound half of a transport. Listen blocks, invoking h once
// per arriving envelope, until ctx ends or the underlying channel closes.
type Listener interface {
	Listen(ctx context.Context, h InboundFunc) error
}

// Serve pumps l into c until ctx ends. A context cancellation is not reported
// as an error.
func Serve(ctx context.Context, l Listener, c *Center) error {
	err := l.Listen(ctx, c.Receive)
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
