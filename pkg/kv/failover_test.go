package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore is a map-backed Store whose availability can be toggled.
type flakyStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	down   atomic.Bool
	calls  atomic.Int64
	closed atomic.Bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{data: map[string][]byte{}}
}

func (f *flakyStore) check() error {
	f.calls.Add(1)
	if f.down.Load() {
		return ErrBackendUnavailable
	}
	return nil
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	if err := f.check(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *flakyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := f.check(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value
	return true, nil
}

func (f *flakyStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			n++
			delete(f.data, k)
		}
	}
	return n, nil
}

func (f *flakyStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			n++
		}
	}
	return n, nil
}

func (f *flakyStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return -1, f.check()
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.down.Load() {
		return ErrBackendUnavailable
	}
	return nil
}

func (f *flakyStore) Close() error {
	f.closed.Store(true)
	return nil
}

func TestFailoverStore_FailsOverOnConnectionError(t *testing.T) {
	primary, fallback := newFlakyStore(), newFlakyStore()
	fs := NewFailoverStore(primary, fallback, time.Hour, nil)
	defer fs.Close()

	ctx := context.Background()
	require.NoError(t, fs.Set(ctx, "k", []byte("primary")))
	assert.False(t, fs.UsingFallback())

	primary.down.Store(true)
	ok, err := fs.SetNX(ctx, "outreach:post:x:1", []byte("inflight"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, fs.UsingFallback())

	v, err := fallback.Get(ctx, "outreach:post:x:1")
	require.NoError(t, err)
	assert.Equal(t, "inflight", string(v))
}

func TestFailoverStore_RecoversWhenPrimaryHealthy(t *testing.T) {
	primary, fallback := newFlakyStore(), newFlakyStore()
	primary.down.Store(true)

	fs := NewFailoverStoreWithFallbackActive(primary, fallback, 10*time.Millisecond, nil)
	defer fs.Close()
	assert.True(t, fs.UsingFallback())

	primary.down.Store(false)
	assert.Eventually(t, func() bool { return !fs.UsingFallback() }, time.Second, 5*time.Millisecond)
}

func TestFailoverStore_BusinessErrorsDoNotFailOver(t *testing.T) {
	primary, fallback := newFlakyStore(), newFlakyStore()
	fs := NewFailoverStore(primary, fallback, time.Hour, nil)
	defer fs.Close()

	_, err := fs.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, fs.UsingFallback())
	assert.Zero(t, fallback.calls.Load())
}

func TestFailoverStore_LogsTransitions(t *testing.T) {
	primary, fallback := newFlakyStore(), newFlakyStore()
	var mu sync.Mutex
	var msgs []string
	logger := func(msg string, _ ...any) {
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
	}

	fs := NewFailoverStore(primary, fallback, 10*time.Millisecond, logger)
	defer fs.Close()

	primary.down.Store(true)
	_, _ = fs.Exists(context.Background(), "k")
	primary.down.Store(false)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Failing over to in-memory store", msgs[0])
	assert.Equal(t, "Recovered to primary store", msgs[1])
}

func TestFailoverStore_CloseStopsProbingAndClosesBoth(t *testing.T) {
	primary, fallback := newFlakyStore(), newFlakyStore()
	primary.down.Store(true)
	fs := NewFailoverStoreWithFallbackActive(primary, fallback, 5*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		_ = fs.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, primary.closed.Load())
	assert.True(t, fallback.closed.Load())
}
