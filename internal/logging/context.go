package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if peer := PeerFromContext(ctx); peer != "" {
		fields = append(fields, zap.String("peer", peer))
	}

	if ch, ok := ctx.Value(channelCtxKey{}).(channelInfo); ok {
		fields = append(fields, zap.String("channel", ch.name))
		if ch.seq > 0 {
			fields = append(fields, zap.Uint64("seq", ch.seq))
		}
	}

	return fields
}

type peerCtxKey struct{}
type channelCtxKey struct{}
type loggerCtxKey struct{}

type channelInfo struct {
	name string
	seq  uint64
}

// WithPeer records the id of the remote peer.
func WithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, peerCtxKey{}, peer)
}

// PeerFromContext returns the peer id, or "".
func PeerFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(peerCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithChannel records the channel and sequence number being handled. A zero
// seq is omitted from log output.
func WithChannel(ctx context.Context, channel string, seq uint64) context.Context {
	return context.WithValue(ctx, channelCtxKey{}, channelInfo{name: channel, seq: seq})
}

// ChannelFromContext returns the channel and seq recorded by WithChannel.
func ChannelFromContext(ctx context.Context) (string, uint64) {
	if ch, ok := ctx.Value(channelCtxKey{}).(channelInfo); ok {
		return ch.name, ch.seq
	}
	return "", 0
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
