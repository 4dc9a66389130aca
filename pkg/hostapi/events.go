package hostapi

import (
	"context"

	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
)

// Lifecycle notifications pushed by the host. They are fire-and-forget and
// never correlated.
const (
	EventWebviewDidPose             = "webviewDidPose"
	EventWebviewDidDispose          = "webviewDidDispose"
	EventWebviewDidChangeViewState  = "webviewDidChangeViewState"
	EventWebviewDidChangeVisibility = "webviewDidChangeVisibility"
	EventSyncWebviewData            = "syncWebviewData"
)

// ViewState accompanies webviewDidChangeViewState.
type ViewState struct {
	Active     bool `json:"active"`
	Visible    bool `json:"visible"`
	ViewColumn int  `json:"viewColumn,omitempty"`
}

// Notify posts event with data.
func Notify(ctx context.Context, c *bridge.Center, event string, data any) error {
	return c.Post(ctx, event, data)
}

// SyncWebviewData pushes changed webview data items to the peer.
func SyncWebviewData(ctx context.Context, c *bridge.Center, items map[string]any) error {
	return Notify(ctx, c, EventSyncWebviewData, items)
}

// OnEvent subscribes fn to event. times follows bridge.Center.Subscribe.
func OnEvent(c *bridge.Center, event string, fn func(ctx context.Context, data any), times int) *bridge.Subscription {
	return c.Subscribe(event, func(ctx context.Context, env bridge.Envelope) {
		fn(ctx, env.Payload())
	}, times)
}

// OnViewState subscribes fn to view state changes.
func OnViewState(c *bridge.Center, fn func(ctx context.Context, vs ViewState)) *bridge.Subscription {
	return OnEvent(c, EventWebviewDidChangeViewState, func(ctx context.Context, data any) {
		var vs ViewState
		if err := bridge.Decode(data, &vs); err == nil {
			fn(ctx, vs)
		}
	}, 0)
}
