// Package cache provides the Redis-backed TTL cache infrastructure shared by
// the state cache, the alias cache (C1), the cross-encoder score cache (C4),
// the reranker context cache (C12) and conversation memory (C10). Each of
// those keeps its own key scheme and TTL; this package only owns the
// marshal/get/set/scan-and-delete mechanics, the way the teacher's
// Redis-backed skills cache does for a single value type.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

// TTLCache is a JSON-marshaling Redis cache for values of type T, namespaced
// by a key prefix so unrelated caches can share one Redis database without
// key collisions.
type TTLCache[T any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewClient builds the shared redis.UniversalClient from CacheConfig. Every
// TTLCache in the process should be built on top of one client, not one
// connection per cache, to keep the connection pool bounded.
func NewClient(cfg config.CacheConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// New constructs a namespaced TTL cache on top of an existing client.
func New[T any](client redis.UniversalClient, prefix string, ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{client: client, prefix: prefix, ttl: ttl}
}

func (c *TTLCache[T]) key(id string) string {
	return fmt.Sprintf("%s:%s", c.prefix, id)
}

// Get returns the cached value and true, or the zero value and false on a
// cache miss, a marshaling error, or a Redis error — callers always have a
// cheaper-to-recompute fallback, so a cache failure is never fatal here.
func (c *TTLCache[T]) Get(ctx context.Context, id string) (T, bool) {
	var zero T
	if c == nil || c.client == nil {
		return zero, false
	}
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", c.key(id)).Msg("cache_get_error")
		}
		return zero, false
	}
	var val T
	if err := json.Unmarshal(raw, &val); err != nil {
		log.Debug().Err(err).Str("key", c.key(id)).Msg("cache_unmarshal_error")
		return zero, false
	}
	return val, true
}

// Set stores value under id with the cache's configured TTL.
func (c *TTLCache[T]) Set(ctx context.Context, id string, value T) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", c.key(id), err)
	}
	if err := c.client.Set(ctx, c.key(id), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", c.key(id), err)
	}
	return nil
}

// Delete evicts a single key, used by cleanup_expired-style operations that
// want to drop an entry ahead of its TTL (e.g. conversation memory
// cleanup, C10).
func (c *TTLCache[T]) Delete(ctx context.Context, id string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(id)).Err()
}

// Keys scans for every key under this cache's prefix, used by
// cleanup_expired to enumerate live sessions without a separate index.
func (c *TTLCache[T]) Keys(ctx context.Context) ([]string, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	pattern := c.prefix + ":*"
	var ids []string
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(c.prefix)+1:])
	}
	return ids, iter.Err()
}
