package hostapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
	"github.com/fyrsmithlabs/webbridge/pkg/transport"
	"github.com/fyrsmithlabs/webbridge/pkg/transport/memory"
)

func linkedPair(t *testing.T) (*bridge.Center, *bridge.Center) {
	t.Helper()

	a, b := memory.Pipe(memory.WithCodec(transport.MsgPack))
	ca, cb := bridge.NewCenter(a), bridge.NewCenter(b)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = bridge.Serve(ctx, a, ca) }()
	go func() { defer wg.Done(); _ = bridge.Serve(ctx, b, cb) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		_ = ca.Close()
		_ = cb.Close()
	})
	return ca, cb
}

func TestEvents_ViewState(t *testing.T) {
	host, peer := linkedPair(t)

	got := make(chan ViewState, 2)
	OnViewState(peer, func(_ context.Context, vs ViewState) { got <- vs })

	ctx := context.Background()
	require.NoError(t, Notify(ctx, host, EventWebviewDidChangeViewState, ViewState{Active: true, Visible: true, ViewColumn: 2}))
	require.NoError(t, Notify(ctx, host, EventWebviewDidChangeViewState, ViewState{}))

	for _, want := range []ViewState{{Active: true, Visible: true, ViewColumn: 2}, {}} {
		select {
		case vs := <-got:
			assert.Equal(t, want, vs)
		case <-time.After(2 * time.Second):
			t.Fatal("view state not delivered")
		}
	}
}

func TestEvents_OnEventTimes(t *testing.T) {
	host, peer := linkedPair(t)

	var mu sync.Mutex
	var seen []any
	OnEvent(peer, EventWebviewDidPose, func(_ context.Context, data any) {
		mu.Lock()
		seen = append(seen, data)
		mu.Unlock()
	}, 1)
	done := make(chan struct{})
	OnEvent(peer, EventSyncWebviewData, func(context.Context, any) { close(done) }, 1)

	ctx := context.Background()
	require.NoError(t, Notify(ctx, host, EventWebviewDidPose, "first"))
	require.NoError(t, Notify(ctx, host, EventWebviewDidPose, "second"))
	require.NoError(t, SyncWebviewData(ctx, host, map[string]any{"k": "v"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync event not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"first"}, seen)
	assert.Zero(t, peer.Stats().Subscriptions)
}
