package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name       string
		channel    string
		seq        uint64
		want       RoutingKey
		correlated bool
	}{
		{name: "uncorrelated", channel: "getData", seq: 0, want: "getData"},
		{name: "correlated", channel: "getData", seq: 42, want: "getData&&42", correlated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := KeyFor(tt.channel, tt.seq)
			assert.Equal(t, tt.want, key)
			assert.Equal(t, tt.channel, key.Channel())
			assert.Equal(t, tt.correlated, key.Correlated())
		})
	}
}

func TestEnvelope_Payload(t *testing.T) {
	req := Envelope{Channel: "add", Args: []int{2, 3}, WantsReply: true}
	assert.Equal(t, []int{2, 3}, req.Payload())

	reply := req.ReplyTo(5)
	assert.Equal(t, 5, reply.Payload())
	assert.Nil(t, reply.Args)

	push := Envelope{Channel: "syncWebviewData", Data: map[string]any{"k": "v"}}
	assert.Equal(t, map[string]any{"k": "v"}, push.Payload())
}

func TestEnvelope_ReplyToEchoesCorrelation(t *testing.T) {
	req := Envelope{Channel: "readFile", Args: "a.txt", WantsReply: true, Correlated: true, Seq: 9}
	reply := req.ReplyTo("content")

	assert.Equal(t, "readFile", reply.Channel)
	assert.Equal(t, uint64(9), reply.Seq)
	assert.True(t, reply.Response)
	assert.True(t, reply.Correlated)
	assert.Equal(t, req.Key(), reply.Key())
}

func TestFailureReply(t *testing.T) {
	req := Envelope{Channel: "echo", WantsReply: true, Correlated: true, Seq: 3}
	reply := failureReply(req, DescTimeout)

	fail, ok := reply.Failure()
	require.True(t, ok)
	assert.Equal(t, 0, fail.Status)
	assert.Equal(t, DescTimeout, fail.Description)
	assert.Equal(t, map[string]any{"status": 0, "description": DescTimeout}, reply.Data)
	assert.Equal(t, req.Key(), reply.Key())

	assert.Equal(t, DescUnknown, mustFailure(t, failureReply(req, "")).Description)
}

func TestEnvelope_FailureRequiresStatusZero(t *testing.T) {
	env := Envelope{Channel: "x", Extra: map[string]any{"status": 1, "description": "nope"}}
	assert.False(t, env.Failed())

	env = Envelope{Channel: "x", Extra: map[string]any{"trace": "abc"}}
	assert.False(t, env.Failed())

	env = Envelope{Channel: "x", Extra: map[string]any{"status": float64(0), "description": "boom"}}
	assert.True(t, env.Failed())
}

func TestWire_RoundTrip(t *testing.T) {
	env := Envelope{
		Channel:    "writeFile",
		Args:       map[string]any{"path": "a.txt"},
		WantsReply: true,
		Correlated: true,
		Seq:        12,
		Timeout:    1500 * time.Millisecond,
		Extra:      map[string]any{"peer": "webview-1"},
	}

	wire := env.Wire()
	assert.Equal(t, "writeFile", wire["channel"])
	assert.Equal(t, true, wire["reply"])
	assert.Equal(t, true, wire["p2p"])
	assert.Equal(t, int64(1500), wire["timeout"])
	assert.Equal(t, uint64(12), wire["index"])
	assert.Equal(t, "webview-1", wire["peer"])
	assert.NotContains(t, wire, "data")
	assert.NotContains(t, wire, "response")

	got, err := FromWire(wire)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestWire_ExtraCannotOverrideKnownKeys(t *testing.T) {
	env := Envelope{Channel: "real", Extra: map[string]any{"channel": "fake"}}
	assert.Equal(t, "real", env.Wire()["channel"])
}

func TestFromWire_JSONNumbersAndLegacyKey(t *testing.T) {
	got, err := FromWire(map[string]any{
		"cmd":      "getPlatform",
		"reply":    true,
		"p2p":      true,
		"index":    float64(7),
		"timeout":  float64(250),
		"data":     "linux",
		"response": true,
	})
	require.NoError(t, err)

	assert.Equal(t, "getPlatform", got.Channel)
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, 250*time.Millisecond, got.Timeout)
	assert.Equal(t, "linux", got.Payload())
	assert.Nil(t, got.Extra)
}

func TestFromWire_MissingChannel(t *testing.T) {
	_, err := FromWire(map[string]any{"args": 1})
	require.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestDecode_WeakTypes(t *testing.T) {
	type args struct {
		A     int           `json:"a"`
		B     int           `json:"b"`
		Delay time.Duration `json:"delay"`
	}
	var got args
	require.NoError(t, Decode(map[string]any{"a": float64(2), "b": "3", "delay": "2s"}, &got))
	assert.Equal(t, args{A: 2, B: 3, Delay: 2 * time.Second}, got)
}

func mustFailure(t *testing.T, env Envelope) Failure {
	t.Helper()
	f, ok := env.Failure()
	require.True(t, ok, "expected failure envelope, got %+v", env)
	return f
}
