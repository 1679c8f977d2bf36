package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a Redis server. Use it when multiple gateway
// workers must share rate-limit buckets and token revocations.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// Interface compliance check.
var _ Cache = (*Redis)(nil)

// NewRedis connects to the Redis server at url (redis://host:port/db) and
// verifies connectivity with a ping before returning.
func NewRedis(ctx context.Context, url string, defaultTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Redis{client: client, defaultTTL: defaultTTL}, nil
}

func (r *Redis) resolveTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return r.defaultTTL
	case ttl < 0:
		return 0
	default:
		return ttl
	}
}

// Get returns the value for key, or ErrMiss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value under key.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, r.resolveTTL(ttl)).Err()
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Incr atomically increments the integer at key. The expiry is attached
// only when the key has none yet, so repeated increments share one window.
func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if effective := r.resolveTTL(ttl); effective > 0 {
		pipe.ExpireNX(ctx, key, effective)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
