// Package natsbus carries bridge envelopes over NATS core subjects.
//
// Each peer publishes on one subject and subscribes to another:
//
//	host:    publish "webbridge.<session>.webview", subscribe "webbridge.<session>.host"
//	webview: publish "webbridge.<session>.host",    subscribe "webbridge.<session>.webview"
//
// Messages carry a peer id header so a bus whose subjects coincide does not
// receive its own posts.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/webbridge/internal/logging"
	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
	"github.com/fyrsmithlabs/webbridge/pkg/transport"
)

// HeaderPeer names the publishing peer.
const HeaderPeer = "Webbridge-Peer"

// HeaderCodec names the codec of the payload.
const HeaderCodec = "Webbridge-Codec"

const defaultPending = 1024

// ErrNoConn is returned by New when nc is nil.
var ErrNoConn = errors.New("natsbus: nil connection")

// Bus is a bridge transport backed by a NATS connection.
type Bus struct {
	nc      *nats.Conn
	pub     string
	sub     string
	codec   transport.Codec
	peerID  string
	logger  *zap.Logger
	pending int
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPeerID overrides the generated peer id.
func WithPeerID(id string) Option {
	return func(b *Bus) {
		if id != "" {
			b.peerID = id
		}
	}
}

// WithPendingLimit sets the inbound buffer size.
func WithPendingLimit(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.pending = n
		}
	}
}

// New creates a Bus publishing on pub and listening on sub. A nil codec
// means JSON.
func New(nc *nats.Conn, pub, sub string, codec transport.Codec, opts ...Option) (*Bus, error) {
	if nc == nil {
		return nil, ErrNoConn
	}
	if pub == "" || sub == "" {
		return nil, fmt.Errorf("natsbus: publish and subscribe subjects are required")
	}
	if codec == nil {
		codec = transport.JSON
	}

	b := &Bus{
		nc:      nc,
		pub:     pub,
		sub:     sub,
		codec:   codec,
		peerID:  uuid.NewString(),
		logger:  zap.NewNop(),
		pending: defaultPending,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// PeerID returns the id stamped on published messages.
func (b *Bus) PeerID() string { return b.peerID }

// Post publishes env on the publish subject.
func (b *Bus) Post(_ context.Context, env bridge.Envelope) error {
	data, err := b.codec.Marshal(env)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(b.pub)
	msg.Data = data
	msg.Header.Set(HeaderPeer, b.peerID)
	msg.Header.Set(HeaderCodec, b.codec.Name())

	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", b.pub, err)
	}
	return nil
}

// Listen subscribes to the subscribe subject and delivers envelopes to h in
// arrival order until ctx ends or the connection closes.
func (b *Bus) Listen(ctx context.Context, h bridge.InboundFunc) error {
	msgs := make(chan *nats.Msg, b.pending)
	sub, err := b.nc.ChanSubscribe(b.sub, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.sub, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Warn("unsubscribe failed", zap.String("subject", b.sub), zap.Error(err))
		}
	}()

	closed := make(chan struct{})
	var once sync.Once
	prev := b.nc.ClosedHandler()
	b.nc.SetClosedHandler(func(c *nats.Conn) {
		if prev != nil {
			prev(c)
		}
		once.Do(func() { close(closed) })
	})
	if b.nc.IsClosed() {
		return nil
	}

	b.logger.Info("listening",
		zap.String("subject", b.sub),
		zap.String("peer_id", b.peerID),
		zap.String("codec", b.codec.Name()))

	for {
		select {
		case msg := <-msgs:
			b.deliver(ctx, msg, h)
		case <-closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bus) deliver(ctx context.Context, msg *nats.Msg, h bridge.InboundFunc) {
	peer := msg.Header.Get(HeaderPeer)
	if peer == b.peerID {
		return
	}
	if name := msg.Header.Get(HeaderCodec); name != "" && name != b.codec.Name() {
		b.logger.Warn("dropping message with foreign codec",
			zap.String("subject", msg.Subject),
			zap.String("codec", name))
		return
	}

	env, err := b.codec.Unmarshal(msg.Data)
	if err != nil {
		b.logger.Warn("dropping malformed message", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if peer != "" {
		ctx = logging.WithPeer(ctx, peer)
	}
	h(ctx, env)
}
