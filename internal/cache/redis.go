// Package cache adapts the teacher's Redis wrapper (cache/redis.go) to
// the single job the engine needs it for: deduplicating webhook alert
// delivery across process restarts and reconnects (spec.md's
// supplemented whale-alert webhook feature).
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient wraps redis.Client, trimmed to the dedup-relevant
// surface (SetNX) plus the teacher's Close.
type RedisClient struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisClient dials addr. A failed ping is logged and nil is
// returned, matching the teacher's degrade-to-disabled behavior:
// callers must treat a nil *RedisClient as "dedup unavailable", not a
// fatal error.
func NewRedisClient(addr, password string, log *zap.Logger) *RedisClient {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("cache: redis unreachable, dedup disabled", zap.String("addr", addr), zap.Error(err))
		return nil
	}
	return &RedisClient{client: client, log: log}
}

// SetIfAbsent atomically claims key for ttl, returning true if this
// call won the claim (the key was absent) and false if another
// delivery already holds it.
func (r *RedisClient) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("cache: redis client not initialized")
	}
	return r.client.SetNX(ctx, key, "1", ttl).Result()
}

// Close closes the underlying connection.
func (r *RedisClient) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
