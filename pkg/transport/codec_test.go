package transport

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
)

func sampleEnvelopes() []bridge.Envelope {
	return []bridge.Envelope{
		{
			Channel:    "readFile",
			Args:       map[string]any{"path": "a.txt", "options": "string"},
			WantsReply: true,
			Correlated: true,
			Seq:        3,
			Timeout:    2 * time.Second,
		},
		{
			Channel:    "readFile",
			Data:       map[string]any{"data": "hello"},
			WantsReply: true,
			Correlated: true,
			Seq:        3,
			Response:   true,
		},
		{
			Channel: "webviewDidPose",
			Args:    "panel-1",
			Extra:   map[string]any{"peer": "host"},
		},
	}
}

func TestCodecs_StreamRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSON, MsgPack} {
		t.Run(codec.Name(), func(t *testing.T) {
			var buf bytes.Buffer
			enc := codec.NewEncoder(&buf)
			for _, env := range sampleEnvelopes() {
				require.NoError(t, enc.Encode(env))
			}

			dec := codec.NewDecoder(&buf)
			for _, want := range sampleEnvelopes() {
				got, err := dec.Decode()
				require.NoError(t, err)
				assert.Equal(t, want.Channel, got.Channel)
				assert.Equal(t, want.Seq, got.Seq)
				assert.Equal(t, want.WantsReply, got.WantsReply)
				assert.Equal(t, want.Correlated, got.Correlated)
				assert.Equal(t, want.Response, got.Response)
				assert.Equal(t, want.Timeout, got.Timeout)
				assert.Equal(t, want.Payload(), got.Payload())
				assert.Equal(t, want.Extra, got.Extra)
			}

			_, err := dec.Decode()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestCodecs_FailureSurvivesWire(t *testing.T) {
	req := bridge.Envelope{Channel: "echo", WantsReply: true, Correlated: true, Seq: 1}
	reply := req.ReplyTo(nil)
	reply.Extra = map[string]any{"status": 0, "description": bridge.DescTimeout}

	for _, codec := range []Codec{JSON, MsgPack} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Marshal(reply)
			require.NoError(t, err)

			got, err := codec.Unmarshal(data)
			require.NoError(t, err)

			fail, ok := got.Failure()
			require.True(t, ok)
			assert.Equal(t, bridge.DescTimeout, fail.Description)
		})
	}
}

func TestJSONDecoder_SkipsBlankLinesAndRecovers(t *testing.T) {
	input := strings.Join([]string{
		`{"channel":"a","reply":false,"p2p":false}`,
		``,
		`{not json`,
		`{"cmd":"b","args":[1,2]}`,
	}, "\n")

	dec := JSON.NewDecoder(strings.NewReader(input))

	env, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "a", env.Channel)

	_, err = dec.Decode()
	require.ErrorIs(t, err, bridge.ErrInvalidEnvelope)

	env, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "b", env.Channel)
	assert.Equal(t, []any{float64(1), float64(2)}, env.Payload())

	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestJSON_WireShape(t *testing.T) {
	data, err := JSON.Marshal(bridge.Envelope{Channel: "add", Args: []int{2, 3}, WantsReply: true, Correlated: true, Seq: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"add","args":[2,3],"reply":true,"p2p":true,"index":1}`, string(data))
}

func TestMsgPack_UnmarshalGarbage(t *testing.T) {
	_, err := MsgPack.Unmarshal([]byte{0xc1})
	require.ErrorIs(t, err, bridge.ErrInvalidEnvelope)
}

func TestByName(t *testing.T) {
	c, err := ByName("msgpack")
	require.NoError(t, err)
	assert.Equal(t, CodecMsgPack, c.Name())

	c, err = ByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c.Name())

	_, err = ByName("xml")
	assert.True(t, errors.Is(err, ErrUnknownCodec))
}
