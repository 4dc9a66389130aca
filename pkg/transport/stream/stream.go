// Package stream carries bridge envelopes over a byte stream such as a
// child process's stdio, a Unix socket or a TCP connection.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/webbridge/internal/logging"
	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
	"github.com/fyrsmithlabs/webbridge/pkg/transport"
)

// ErrClosed is returned when posting on a closed Conn.
var ErrClosed = errors.New("stream transport closed")

// Conn is a bridge transport over an io.Reader / io.Writer pair.
type Conn struct {
	r      io.Reader
	w      io.Writer
	codec  transport.Codec
	logger *zap.Logger
	peer   string

	mu     sync.Mutex
	enc    transport.Encoder
	closed bool
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger used for dropped frames.
func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPeer names the remote end. Inbound envelopes carry the name in their
// context for log correlation.
func WithPeer(name string) Option {
	return func(c *Conn) { c.peer = name }
}

// New creates a Conn reading from r and writing to w. A nil codec means JSON.
func New(r io.Reader, w io.Writer, codec transport.Codec, opts ...Option) *Conn {
	if codec == nil {
		codec = transport.JSON
	}
	c := &Conn{
		r:      r,
		w:      w,
		codec:  codec,
		logger: zap.NewNop(),
		enc:    codec.NewEncoder(w),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post writes env. Concurrent posts are serialized so frames never interleave.
func (c *Conn) Post(_ context.Context, env bridge.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.enc.Encode(env)
}

type frame struct {
	env bridge.Envelope
	err error
}

// Listen decodes envelopes and passes them to h in stream order. Malformed
// frames are logged and skipped. It returns nil at end of stream.
func (c *Conn) Listen(ctx context.Context, h bridge.InboundFunc) error {
	if c.peer != "" {
		ctx = logging.WithPeer(ctx, c.peer)
	}
	frames := make(chan frame)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		dec := c.codec.NewDecoder(c.r)
		for {
			env, err := dec.Decode()
			if err != nil && errors.Is(err, bridge.ErrInvalidEnvelope) {
				c.logger.Warn("dropping malformed frame", zap.String("codec", c.codec.Name()), zap.Error(err))
				continue
			}
			select {
			case frames <- frame{env: env, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case f := <-frames:
			if errors.Is(f.err, io.EOF) {
				return nil
			}
			if f.err != nil {
				return fmt.Errorf("reading %s stream: %w", c.codec.Name(), f.err)
			}
			h(ctx, f.env)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close marks the Conn closed and closes the reader and writer when they
// implement io.Closer.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if cl, ok := c.w.(io.Closer); ok {
		errs = append(errs, cl.Close())
	}
	if cl, ok := c.r.(io.Closer); ok && any(c.r) != any(c.w) {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
