package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/webbridge/internal/logging"
)

func request(channel string, seq uint64, args any) Envelope {
	return Envelope{Channel: channel, Args: args, WantsReply: true, Correlated: seq > 0, Seq: seq}
}

func waitReplies(t *testing.T, rec *recorder, n int) []Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return rec.len() >= n }, 2*time.Second, 5*time.Millisecond)
	return rec.all()
}

func TestResponder_ImmediateResult(t *testing.T) {
	rec := &recorder{}
	r := NewResponder(rec)
	r.Handle("getPlatform", func(context.Context, any) (any, error) { return "linux", nil })

	r.Receive(context.Background(), request("getPlatform", 4, nil))

	reply := waitReplies(t, rec, 1)[0]
	assert.Equal(t, "getPlatform", reply.Channel)
	assert.Equal(t, uint64(4), reply.Seq)
	assert.True(t, reply.Response)
	assert.Equal(t, "linux", reply.Payload())
	assert.False(t, reply.Failed())
}

func TestResponder_Failures(t *testing.T) {
	tests := []struct {
		name string
		fn   CommandFunc
		desc string
	}{
		{
			name: "error",
			fn:   func(context.Context, any) (any, error) { return nil, errors.New("disk full") },
			desc: "disk full",
		},
		{
			name: "panic",
			fn:   func(context.Context, any) (any, error) { panic("bad state") },
			desc: "bad state",
		},
		{
			name: "invalid typed args",
			fn: Handle(func(_ context.Context, args addArgs) (int, error) {
				return args.A + args.B, nil
			}),
			desc: "invalid arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			r := NewResponder(rec)
			r.Handle("cmd", tt.fn)

			r.Receive(context.Background(), request("cmd", 1, "not-an-object"))

			reply := waitReplies(t, rec, 1)[0]
			assert.Equal(t, uint64(1), reply.Seq)
			assert.Contains(t, mustFailure(t, reply).Description, tt.desc)
		})
	}
}

func TestResponder_AwaitsFuture(t *testing.T) {
	upstream := &recorder{}
	forward := NewCenter(upstream)

	rec := &recorder{}
	r := NewResponder(rec)
	r.Handle("request", func(ctx context.Context, args any) (any, error) {
		return forward.Send(ctx, "request", args), nil
	})

	r.Receive(context.Background(), request("request", 2, "https://example.test"))

	require.Eventually(t, func() bool { return upstream.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.len())
	forward.Receive(context.Background(), upstream.last().ReplyTo("body"))

	reply := waitReplies(t, rec, 1)[0]
	assert.Equal(t, uint64(2), reply.Seq)
	assert.Equal(t, "body", reply.Payload())
}

func TestResponder_AwaitedFailurePropagates(t *testing.T) {
	forward := NewCenter(&recorder{})
	rec := &recorder{}
	r := NewResponder(rec, Inline())
	r.Handle("slow", func(ctx context.Context, args any) (any, error) {
		return forward.Send(ctx, "slow", args, WithTimeout(10*time.Millisecond)), nil
	})

	r.Receive(context.Background(), request("slow", 5, nil))

	reply := waitReplies(t, rec, 1)[0]
	assert.Equal(t, DescTimeout, mustFailure(t, reply).Description)
}

func TestResponder_UnknownChannel(t *testing.T) {
	logger, logs := observedLogger()
	rec := &recorder{}
	r := NewResponder(rec, WithResponderLogger(logger))

	r.Receive(context.Background(), request("missing", 1, nil))
	r.Wait()

	assert.Zero(t, rec.len())
	assert.Equal(t, 1, logs.FilterMessage("no command registered").Len())
}

func TestResponder_NoReplyWhenNotWanted(t *testing.T) {
	rec := &recorder{}
	r := NewResponder(rec)
	var ran atomic.Bool
	r.Handle("showTxt2Output", func(context.Context, any) (any, error) {
		ran.Store(true)
		return nil, nil
	})

	r.Receive(context.Background(), Envelope{Channel: "showTxt2Output", Args: "hello"})
	r.Wait()

	assert.True(t, ran.Load())
	assert.Zero(t, rec.len())
}

func TestResponder_Inline(t *testing.T) {
	rec := &recorder{}
	r := NewResponder(rec, Inline())
	r.Handle("getPlatform", func(context.Context, any) (any, error) { return "darwin", nil })

	r.Receive(context.Background(), request("getPlatform", 1, nil))

	require.Equal(t, 1, rec.len())
	assert.Equal(t, "darwin", rec.last().Payload())
}

func TestResponder_RateLimit(t *testing.T) {
	rec := &recorder{}
	r := NewResponder(rec, Inline(), WithRateLimit(rate.NewLimiter(0, 1)))
	r.Handle("ping", func(context.Context, any) (any, error) { return "pong", nil })

	r.Receive(context.Background(), request("ping", 1, nil))
	r.Receive(context.Background(), request("ping", 2, nil))

	replies := rec.all()
	require.Len(t, replies, 2)
	assert.Equal(t, "pong", replies[0].Payload())
	assert.Equal(t, DescRateLimited, mustFailure(t, replies[1]).Description)
}

func TestResponder_Registry(t *testing.T) {
	r := NewResponder(nil)
	noop := func(context.Context, any) (any, error) { return nil, nil }
	r.AddCommands(Commands{"b": noop, "a": noop}, Commands{"c": noop})

	assert.Equal(t, []string{"a", "b", "c"}, r.Channels())
	assert.True(t, r.Handles("a"))

	r.Remove("a")
	assert.False(t, r.Handles("a"))
}

func TestCenter_RequestsReachResponderBeforeSubscriptions(t *testing.T) {
	rec := &recorder{}
	c := NewCenter(rec, WithResponderOptions(Inline()))
	c.Handle("getData", func(context.Context, any) (any, error) { return 1, nil })

	var subCalls atomic.Int32
	c.Subscribe("getData", func(context.Context, Envelope) { subCalls.Add(1) }, 0)

	c.Receive(context.Background(), request("getData", 9, nil))

	require.Equal(t, 1, rec.len())
	assert.True(t, rec.last().Response)
	assert.Zero(t, subCalls.Load())
	assert.Equal(t, 1, c.Stats().Commands)
}

func TestResponder_CommandContextCarriesChannel(t *testing.T) {
	logger, logs := observedLogger()
	rec := &recorder{}
	r := NewResponder(rec, Inline(), WithResponderLogger(logger))

	var gotChannel string
	var gotSeq uint64
	r.Handle("readFile", func(ctx context.Context, _ any) (any, error) {
		gotChannel, gotSeq = logging.ChannelFromContext(ctx)
		return nil, errors.New("no such file")
	})

	r.Receive(context.Background(), request("readFile", 7, "a.txt"))

	assert.Equal(t, "readFile", gotChannel)
	assert.Equal(t, uint64(7), gotSeq)

	entries := logs.FilterMessage("command failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "readFile", fields["channel"])
	assert.Equal(t, uint64(7), fields["seq"])
	assert.Equal(t, "no such file", fields["description"])
}

func TestResponder_CloseDropsLaterRequests(t *testing.T) {
	logger, logs := observedLogger()
	rec := &recorder{}
	r := NewResponder(rec, WithResponderLogger(logger))
	var calls atomic.Int32
	r.Handle("ping", func(context.Context, any) (any, error) {
		calls.Add(1)
		return "pong", nil
	})

	r.Receive(context.Background(), request("ping", 1, nil))
	r.Close()
	require.Equal(t, 1, rec.len())

	r.Receive(context.Background(), request("ping", 2, nil))
	r.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, rec.len())
	assert.Equal(t, 1, logs.FilterMessage("dropping request after close").Len())
}
