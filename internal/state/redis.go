package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by one Redis hash. Values are stored as JSON so
// any payload shape survives.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis creates a store on the hash at key.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	return &Redis{client: client, key: key}
}

// Key returns the hash key.
func (r *Redis) Key() string { return r.key }

// Get returns every field of the hash.
func (r *Redis) Get(ctx context.Context) (map[string]any, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.key, err)
	}

	out := make(map[string]any, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decoding %s.%s: %w", r.key, k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Update writes items in one transaction. Nil values delete their field.
func (r *Redis) Update(ctx context.Context, items map[string]any) error {
	if len(items) == 0 {
		return nil
	}

	var set []any
	var del []string
	for k, v := range items {
		if v == nil {
			del = append(del, k)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s.%s: %w", r.key, k, err)
		}
		set = append(set, k, string(raw))
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(set) > 0 {
			pipe.HSet(ctx, r.key, set...)
		}
		if len(del) > 0 {
			pipe.HDel(ctx, r.key, del...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating %s: %w", r.key, err)
	}
	return nil
}
