package stream

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/webbridge/internal/logging"
	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
	"github.com/fyrsmithlabs/webbridge/pkg/transport"
)

func TestConn_WritesNewlineDelimitedJSON(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out, nil)

	require.NoError(t, c.Post(context.Background(), bridge.Envelope{Channel: "a"}))
	require.NoError(t, c.Post(context.Background(), bridge.Envelope{Channel: "b"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"channel":"a"`)
	assert.Contains(t, lines[1], `"channel":"b"`)
}

func TestConn_ListenSkipsMalformed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	in := strings.NewReader("{\"channel\":\"one\"}\n{oops\n{\"args\":1}\n{\"channel\":\"two\"}\n")
	c := New(in, io.Discard, transport.JSON, WithLogger(zap.New(core)))

	var got []string
	err := c.Listen(context.Background(), func(_ context.Context, env bridge.Envelope) {
		got = append(got, env.Channel)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, 2, logs.FilterMessage("dropping malformed frame").Len())
}

func TestConn_ListenTagsPeer(t *testing.T) {
	in := strings.NewReader("{\"channel\":\"one\"}\n")
	c := New(in, io.Discard, transport.JSON, WithPeer("stdio"))

	var peer string
	err := c.Listen(context.Background(), func(ctx context.Context, _ bridge.Envelope) {
		peer = logging.PeerFromContext(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, "stdio", peer)
}

func TestConn_PostAfterClose(t *testing.T) {
	c := New(strings.NewReader(""), io.Discard, transport.MsgPack)
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Post(context.Background(), bridge.Envelope{Channel: "x"}), ErrClosed)
	require.NoError(t, c.Close())
}

// TestConn_CentersOverPipes runs a full request/reply exchange over two
// io.Pipe pairs, the same shape as a parent talking to a child over stdio.
func TestConn_CentersOverPipes(t *testing.T) {
	for _, codec := range []transport.Codec{transport.JSON, transport.MsgPack} {
		t.Run(codec.Name(), func(t *testing.T) {
			parentR, childW := io.Pipe()
			childR, parentW := io.Pipe()

			parentConn := New(parentR, parentW, codec)
			childConn := New(childR, childW, codec)
			parent := bridge.NewCenter(parentConn)
			child := bridge.NewCenter(childConn)

			child.Handle("getPlatform", func(context.Context, any) (any, error) {
				return "linux", nil
			})

			ctx, cancel := context.WithCancel(context.Background())
			var wg sync.WaitGroup
			for _, p := range []struct {
				conn *Conn
				c    *bridge.Center
			}{{parentConn, parent}, {childConn, child}} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = bridge.Serve(ctx, p.conn, p.c)
				}()
			}
			defer func() {
				cancel()
				_ = parentConn.Close()
				_ = childConn.Close()
				wg.Wait()
			}()

			platform, err := bridge.Invoke[string](context.Background(), parent, "getPlatform", nil,
				bridge.WithTimeout(2*time.Second))
			require.NoError(t, err)
			assert.Equal(t, "linux", platform)
		})
	}
}
