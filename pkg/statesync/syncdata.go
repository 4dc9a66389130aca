// Package statesync mirrors the host's key/value scopes on the peer side.
// Local writes update the cache immediately and are pushed to the host;
// pushes from the host update the cache without being echoed back.
package statesync

import (
	"context"
	"maps"
	"sync"
)

// SyncFunc pushes changed items to the owner of the data.
type SyncFunc func(ctx context.Context, items map[string]any) error

// SyncData is a local cache of one scope.
type SyncData struct {
	mu    sync.RWMutex
	cache map[string]any
	sync  SyncFunc
}

// NewSyncData creates a SyncData seeded with initial. fn may be nil, in
// which case changes stay local.
func NewSyncData(initial map[string]any, fn SyncFunc) *SyncData {
	cache := make(map[string]any, len(initial))
	maps.Copy(cache, initial)
	return &SyncData{cache: cache, sync: fn}
}

// Set stores value under key and, if push is true, sends {key: value}.
func (s *SyncData) Set(ctx context.Context, key string, value any, push bool) error {
	return s.Update(ctx, map[string]any{key: value}, push)
}

// Update merges items into the cache and, if push is true, sends them. A nil
// value removes the key.
func (s *SyncData) Update(ctx context.Context, items map[string]any, push bool) error {
	s.mu.Lock()
	for k, v := range items {
		if v == nil {
			delete(s.cache, k)
			continue
		}
		s.cache[k] = v
	}
	fn := s.sync
	s.mu.Unlock()

	if !push || fn == nil || len(items) == 0 {
		return nil
	}
	return fn(ctx, items)
}

// Get returns the value for key, or def when it is missing.
func (s *SyncData) Get(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.cache[key]; ok && v != nil {
		return v
	}
	return def
}

// Snapshot returns a copy of the cache.
func (s *SyncData) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.cache)
}

// Activate loads the initial state with load and merges it without pushing
// it back.
func (s *SyncData) Activate(ctx context.Context, load func(ctx context.Context) (map[string]any, error)) error {
	if load == nil {
		return nil
	}
	items, err := load(ctx)
	if err != nil {
		return err
	}
	return s.Update(ctx, items, false)
}
