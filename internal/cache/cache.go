// Package cache provides the shared cache used for catalog lookups, token
// revocation checks, and rate-limit buckets. Two backends exist: an
// in-process sharded map for single-node deployments and Redis for
// multi-worker deployments where buckets and revocations must be shared.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss indicates the key is not present (or expired).
var ErrMiss = errors.New("cache miss")

// ErrClosed indicates the cache has been closed and can no longer be used.
var ErrClosed = errors.New("cache is closed")

// Cache is the contract shared by all backends. Values are opaque bytes;
// callers own serialization.
type Cache interface {
	// Get returns the value for key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl applies the backend default;
	// a negative ttl stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the integer at key, creating it at zero
	// first. The ttl is applied only when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Close releases backend resources.
	Close() error
}
