package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"clipfactory/log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis shares cached values between worker processes. Values are stored as
// JSON under prefix+key with the configured TTL.
type Redis[V any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis[V any](client redis.UniversalClient, prefix string, ttl time.Duration) *Redis[V] {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis[V]{client: client, prefix: prefix, ttl: ttl}
}

func (c *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.GetLogger().Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false
	}
	return value, true
}

func (c *Redis[V]) Set(ctx context.Context, key string, value V) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		log.GetLogger().Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Tiered reads the local cache first and falls back to a shared one,
// back-filling the local copy on a shared hit.
type Tiered[V any] struct {
	Local  Cache[V]
	Shared Cache[V]
}

func (t Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := t.Local.Get(ctx, key); ok {
		return v, true
	}
	v, ok := t.Shared.Get(ctx, key)
	if ok {
		t.Local.Set(ctx, key, v)
	}
	return v, ok
}

func (t Tiered[V]) Set(ctx context.Context, key string, value V) {
	t.Local.Set(ctx, key, value)
	t.Shared.Set(ctx, key, value)
}
