package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable is returned when the backend storage is unavailable
var ErrBackendUnavailable = errors.New("backend unavailable")

// Store is the small Redis-like surface the desk needs: plain values with TTL
// and an atomic claim (SetNX) for write-ahead markers.
type Store interface {
	// Value operations
	Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Key operations
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}
