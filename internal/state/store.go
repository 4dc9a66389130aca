// Package state persists the key/value scopes the host exposes to its peers:
// global state, workspace state and webview data.
//
// Update merges the given keys into the scope; a nil value removes the key.
package state

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("state store closed")

// Store is a key/value scope.
type Store interface {
	Get(ctx context.Context) (map[string]any, error)
	Update(ctx context.Context, items map[string]any) error
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMemory creates a Memory store seeded with initial.
func NewMemory(initial map[string]any) *Memory {
	m := &Memory{data: make(map[string]any, len(initial))}
	merge(m.data, initial)
	return m
}

// Get returns a copy of the scope.
func (m *Memory) Get(context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data), nil
}

// Update merges items.
func (m *Memory) Update(_ context.Context, items map[string]any) error {
	m.mu.Lock()
	merge(m.data, items)
	m.mu.Unlock()
	return nil
}

func merge(dst, items map[string]any) {
	for k, v := range items {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}
