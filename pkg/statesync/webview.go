package statesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
	"github.com/fyrsmithlabs/webbridge/pkg/hostapi"
)

// WebviewData mirrors the global, workspace and webview scopes of a host.
type WebviewData struct {
	client *hostapi.Client
	logger *zap.Logger

	global    *SyncData
	workspace *SyncData
	webview   *SyncData

	mu  sync.Mutex
	sub *bridge.Subscription
}

// NewWebviewData binds the three scopes to client. Local changes are pushed
// with the matching update command.
func NewWebviewData(client *hostapi.Client, logger *zap.Logger) *WebviewData {
	if logger == nil {
		logger = zap.NewNop()
	}
	push := func(scope hostapi.Scope) SyncFunc {
		return func(ctx context.Context, items map[string]any) error {
			return client.UpdateState(ctx, scope, items)
		}
	}
	return &WebviewData{
		client:    client,
		logger:    logger,
		global:    NewSyncData(nil, push(hostapi.ScopeGlobal)),
		workspace: NewSyncData(nil, push(hostapi.ScopeWorkspace)),
		webview:   NewSyncData(nil, push(hostapi.ScopeWebview)),
	}
}

// Global returns the global state cache.
func (w *WebviewData) Global() *SyncData { return w.global }

// Workspace returns the workspace state cache.
func (w *WebviewData) Workspace() *SyncData { return w.workspace }

// Webview returns the webview data cache.
func (w *WebviewData) Webview() *SyncData { return w.webview }

// Activate subscribes to host pushes and loads all three scopes. Scopes that
// fail to load are reported together; the others stay loaded.
func (w *WebviewData) Activate(ctx context.Context) error {
	w.mu.Lock()
	if w.sub == nil {
		w.sub = hostapi.OnEvent(w.client.Center(), hostapi.EventSyncWebviewData, w.onSync, 0)
	}
	w.mu.Unlock()

	var errs []error
	for scope, data := range map[hostapi.Scope]*SyncData{
		hostapi.ScopeGlobal:    w.global,
		hostapi.ScopeWorkspace: w.workspace,
		hostapi.ScopeWebview:   w.webview,
	} {
		err := data.Activate(ctx, func(ctx context.Context) (map[string]any, error) {
			return w.client.GetState(ctx, scope)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("loading %s state: %w", scope, err))
		}
	}
	return errors.Join(errs...)
}

func (w *WebviewData) onSync(_ context.Context, data any) {
	var items map[string]any
	if err := bridge.Decode(data, &items); err != nil {
		w.logger.Warn("ignoring malformed webview data push", zap.Error(err))
		return
	}
	_ = w.webview.Update(context.Background(), items, false)
}

// Deactivate stops listening for host pushes.
func (w *WebviewData) Deactivate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		w.client.Center().Unsubscribe(w.sub)
		w.sub = nil
	}
}
