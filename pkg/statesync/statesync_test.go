package statesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/webbridge/internal/state"
	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
	"github.com/fyrsmithlabs/webbridge/pkg/hostapi"
	"github.com/fyrsmithlabs/webbridge/pkg/transport"
	"github.com/fyrsmithlabs/webbridge/pkg/transport/memory"
)

func TestSyncData_SetUpdateGet(t *testing.T) {
	var pushed []map[string]any
	data := NewSyncData(map[string]any{"a": 1}, func(_ context.Context, items map[string]any) error {
		pushed = append(pushed, items)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, data.Set(ctx, "b", 2, true))
	require.NoError(t, data.Update(ctx, map[string]any{"c": 3, "a": nil}, true))
	require.NoError(t, data.Set(ctx, "quiet", true, false))

	assert.Equal(t, map[string]any{"b": 2, "c": 3, "quiet": true}, data.Snapshot())
	assert.Equal(t, []map[string]any{{"b": 2}, {"c": 3, "a": nil}}, pushed)
	assert.Equal(t, 2, data.Get("b", 0))
	assert.Equal(t, "fallback", data.Get("a", "fallback"))
}

func TestSyncData_PushError(t *testing.T) {
	boom := errors.New("boom")
	data := NewSyncData(nil, func(context.Context, map[string]any) error { return boom })

	err := data.Set(context.Background(), "k", "v", true)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "v", data.Get("k", nil), "cache keeps local writes")
}

func TestSyncData_ActivateDoesNotEcho(t *testing.T) {
	pushes := 0
	data := NewSyncData(nil, func(context.Context, map[string]any) error {
		pushes++
		return nil
	})

	err := data.Activate(context.Background(), func(context.Context) (map[string]any, error) {
		return map[string]any{"loaded": true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, true, data.Get("loaded", false))
	assert.Zero(t, pushes)

	require.NoError(t, data.Activate(context.Background(), nil))
}

type harness struct {
	host      *bridge.Center
	global    *state.Memory
	workspace *state.Memory
	webview   *state.Memory
	data      *WebviewData
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	hostEnd, peerEnd := memory.Pipe(memory.WithCodec(transport.JSON))
	h := &harness{
		global:    state.NewMemory(map[string]any{"theme": "dark"}),
		workspace: state.NewMemory(map[string]any{"root": "/src"}),
		webview:   state.NewMemory(nil),
	}
	h.host = bridge.NewCenter(hostEnd)
	h.host.AddCommands(hostapi.NewHost(hostapi.Config{
		GlobalState:    h.global,
		WorkspaceState: h.workspace,
		WebviewData:    h.webview,
	}, nil).Commands())
	peer := bridge.NewCenter(peerEnd)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = bridge.Serve(ctx, hostEnd, h.host) }()
	go func() { defer wg.Done(); _ = bridge.Serve(ctx, peerEnd, peer) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		_ = h.host.Close()
		_ = peer.Close()
	})

	h.data = NewWebviewData(hostapi.NewClient(peer, bridge.WithTimeout(2*time.Second)), nil)
	return h
}

func TestWebviewData_ActivateLoadsScopes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.data.Activate(ctx))
	assert.Equal(t, "dark", h.data.Global().Get("theme", nil))
	assert.Equal(t, "/src", h.data.Workspace().Get("root", nil))
	assert.Empty(t, h.data.Webview().Snapshot())
}

func TestWebviewData_LocalWritesReachHost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.data.Activate(ctx))

	require.NoError(t, h.data.Global().Set(ctx, "zoom", 3, true))
	require.NoError(t, h.data.Webview().Update(ctx, map[string]any{"tab": "logs"}, true))

	got, err := h.global.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark", "zoom": float64(3)}, got)

	got, err = h.webview.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tab": "logs"}, got)
}

func TestWebviewData_HostPush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.data.Activate(ctx))

	require.NoError(t, hostapi.SyncWebviewData(ctx, h.host, map[string]any{"selected": "item-1"}))
	require.Eventually(t, func() bool {
		return h.data.Webview().Get("selected", nil) == "item-1"
	}, 2*time.Second, 10*time.Millisecond)

	// the push must not be written back to the host
	got, err := h.webview.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	h.data.Deactivate()
	require.NoError(t, hostapi.SyncWebviewData(ctx, h.host, map[string]any{"selected": "item-2"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "item-1", h.data.Webview().Get("selected", nil))
}
