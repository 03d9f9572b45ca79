package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// LogFunc is a function type for structured logging
type LogFunc func(msg string, fields ...any)

// FailoverStore routes calls to primary until it reports ErrBackendUnavailable,
// then serves from fallback while a probe loop waits for primary to recover.
//
// Keys written to the fallback while primary is down are not copied back.
type FailoverStore struct {
	primary       Store
	fallback      Store
	active        atomic.Pointer[Store]
	probeInterval time.Duration
	logger        LogFunc

	mu        sync.Mutex
	probing   bool
	probeStop chan struct{}
	probeDone chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewFailoverStore creates a store that starts on primary.
func NewFailoverStore(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	fs := &FailoverStore{
		primary:       primary,
		fallback:      fallback,
		probeInterval: probeInterval,
		logger:        logger,
		closed:        make(chan struct{}),
	}
	fs.active.Store(&primary)
	return fs
}

// NewFailoverStoreWithFallbackActive starts on fallback and probes primary
// immediately. Used when primary fails its startup ping.
func NewFailoverStoreWithFallbackActive(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	fs := NewFailoverStore(primary, fallback, probeInterval, logger)
	fs.active.Store(&fs.fallback)
	fs.mu.Lock()
	fs.startProbingLocked()
	fs.mu.Unlock()
	return fs
}

func (fs *FailoverStore) current() Store {
	return *fs.active.Load()
}

// UsingFallback reports whether calls are currently served by the fallback.
func (fs *FailoverStore) UsingFallback() bool {
	return fs.current() == fs.fallback
}

func (fs *FailoverStore) demote() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.current() == fs.fallback {
		return
	}
	fs.active.Store(&fs.fallback)
	fs.logger("Failing over to in-memory store", "reason", "primary_unavailable")
	fs.startProbingLocked()
}

func (fs *FailoverStore) promote() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.current() == fs.primary {
		return
	}
	fs.active.Store(&fs.primary)
	fs.probing = false
	fs.logger("Recovered to primary store", "reason", "primary_healthy")
}

// must hold fs.mu
func (fs *FailoverStore) startProbingLocked() {
	if fs.probing {
		return
	}
	fs.probing = true
	fs.probeStop = make(chan struct{})
	fs.probeDone = make(chan struct{})
	go fs.probeLoop(fs.probeStop, fs.probeDone)
}

func (fs *FailoverStore) probeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(fs.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.closed:
			return
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), fs.probeInterval/2)
			err := fs.primary.Ping(ctx)
			cancel()
			if err == nil {
				fs.promote()
				return
			}
		}
	}
}

func withFailover[T any](fs *FailoverStore, fn func(Store) (T, error)) (T, error) {
	s := fs.current()
	out, err := fn(s)
	if s == fs.primary && errors.Is(err, ErrBackendUnavailable) {
		fs.demote()
		return fn(fs.fallback)
	}
	return out, err
}

func (fs *FailoverStore) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	_, err := withFailover(fs, func(s Store) (struct{}, error) {
		return struct{}{}, s.Set(ctx, key, value, ttl...)
	})
	return err
}

func (fs *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	return withFailover(fs, func(s Store) ([]byte, error) { return s.Get(ctx, key) })
}

func (fs *FailoverStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return withFailover(fs, func(s Store) (bool, error) { return s.SetNX(ctx, key, value, ttl) })
}

func (fs *FailoverStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return withFailover(fs, func(s Store) (int64, error) { return s.Del(ctx, keys...) })
}

func (fs *FailoverStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	return withFailover(fs, func(s Store) (int64, error) { return s.Exists(ctx, keys...) })
}

func (fs *FailoverStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return withFailover(fs, func(s Store) (time.Duration, error) { return s.TTL(ctx, key) })
}

// Ping checks the active store only; a healthy fallback keeps the desk ready.
func (fs *FailoverStore) Ping(ctx context.Context) error {
	return fs.current().Ping(ctx)
}

func (fs *FailoverStore) Close() error {
	fs.closeOnce.Do(func() { close(fs.closed) })

	fs.mu.Lock()
	done := fs.probeDone
	probing := fs.probing
	fs.mu.Unlock()
	if probing && done != nil {
		<-done
	}

	return errors.Join(fs.primary.Close(), fs.fallback.Close())
}
