// Package memory provides an in-process bridge transport: two connected
// endpoints exchanging envelopes through FIFO queues.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
	"github.com/fyrsmithlabs/webbridge/pkg/transport"
)

// ErrClosed is returned when posting on a closed endpoint.
var ErrClosed = errors.New("memory transport closed")

const defaultBuffer = 256

// Option configures a Pipe.
type Option func(*options)

type options struct {
	codec  transport.Codec
	buffer int
}

// WithCodec round-trips every envelope through c, so in-process peers see
// exactly what a remote peer would.
func WithCodec(c transport.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithBuffer sets the queue depth. Post blocks while the queue is full.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// Endpoint is one side of a Pipe. It implements bridge.Transport and
// bridge.Listener.
type Endpoint struct {
	codec transport.Codec
	in    chan bridge.Envelope
	peer  *Endpoint

	closeOnce sync.Once
	done      chan struct{}
}

// Pipe returns two connected endpoints.
func Pipe(opts ...Option) (*Endpoint, *Endpoint) {
	o := options{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Endpoint{codec: o.codec, in: make(chan bridge.Envelope, o.buffer), done: make(chan struct{})}
	b := &Endpoint{codec: o.codec, in: make(chan bridge.Envelope, o.buffer), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Post queues env for the peer.
func (e *Endpoint) Post(ctx context.Context, env bridge.Envelope) error {
	if e.codec != nil {
		data, err := e.codec.Marshal(env)
		if err != nil {
			return err
		}
		if env, err = e.codec.Unmarshal(data); err != nil {
			return fmt.Errorf("round trip: %w", err)
		}
	}

	select {
	case <-e.done:
		return ErrClosed
	case <-e.peer.done:
		return ErrClosed
	default:
	}

	select {
	case e.peer.in <- env:
		return nil
	case <-e.done:
		return ErrClosed
	case <-e.peer.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen delivers queued envelopes to h until ctx ends or either endpoint
// is closed.
func (e *Endpoint) Listen(ctx context.Context, h bridge.InboundFunc) error {
	for {
		select {
		case env := <-e.in:
			h(ctx, env)
		case <-e.done:
			return nil
		case <-e.peer.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close disconnects the endpoint. Both sides stop accepting posts.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}
