package kv

import (
	"context"
	"fmt"
	"time"
)

// Backend represents the storage backend type
type Backend string

const (
	// BackendMemory uses the in-memory store
	BackendMemory Backend = "memory"
	// BackendRedis uses Redis as the backend
	BackendRedis Backend = "redis"
)

// Config holds configuration for creating a Store instance
type Config struct {
	Backend Backend

	// RedisURL is required when Backend is "redis".
	// Format: redis://localhost:6379/0
	RedisURL string

	// JanitorInterval controls how often the in-memory store sweeps expired keys.
	// Zero means 30s.
	JanitorInterval time.Duration

	// FailoverEnabled wraps Redis in a FailoverStore that falls back to memory
	// while Redis is unreachable.
	FailoverEnabled bool

	ProbeInterval       time.Duration
	StartupProbeTimeout time.Duration

	// Logger receives failover events. May be nil.
	Logger LogFunc
}

// StoreFactory defines a function that creates a Store instance
type StoreFactory func(cfg Config) (Store, error)

var factories = make(map[Backend]StoreFactory)

// RegisterBackend registers a store factory for a given backend
func RegisterBackend(backend Backend, factory StoreFactory) {
	factories[backend] = factory
}

// NewStoreFromConfig creates a new Store instance based on the provided configuration
func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	if cfg.StartupProbeTimeout == 0 {
		cfg.StartupProbeTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = func(string, ...any) {}
	}

	switch cfg.Backend {
	case BackendMemory, "":
		return build(BackendMemory, cfg)
	case BackendRedis:
		return newRedisBacked(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s)",
			cfg.Backend, BackendMemory, BackendRedis)
	}
}

func build(b Backend, cfg Config) (Store, error) {
	factory, ok := factories[b]
	if !ok {
		return nil, fmt.Errorf("%s backend not registered", b)
	}
	return factory(cfg)
}

// newRedisBacked never fails because Redis is down: it degrades to memory
// and, with failover enabled, keeps probing Redis in the background.
func newRedisBacked(cfg Config) (Store, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required when backend is 'redis'")
	}

	mem, err := build(BackendMemory, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory fallback: %w", err)
	}

	rdb, err := build(BackendRedis, cfg)
	if err != nil {
		cfg.Logger("Redis unavailable at startup; using in-memory store", "error", err.Error())
		return mem, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupProbeTimeout)
	defer cancel()
	pingErr := rdb.Ping(ctx)

	if !cfg.FailoverEnabled {
		if pingErr != nil {
			_ = rdb.Close()
			cfg.Logger("Redis health check failed at startup; using in-memory store", "error", pingErr.Error())
			return mem, nil
		}
		_ = mem.Close()
		return rdb, nil
	}

	if pingErr != nil {
		cfg.Logger("Redis unhealthy at startup; using in-memory store (will retry in background)", "error", pingErr.Error())
		return NewFailoverStoreWithFallbackActive(rdb, mem, cfg.ProbeInterval, cfg.Logger), nil
	}

	cfg.Logger("Redis healthy at startup; using Redis with in-memory failover")
	return NewFailoverStore(rdb, mem, cfg.ProbeInterval, cfg.Logger), nil
}
