// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clawdops/outreach-desk/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetMissing", testGetMissing},
		{"SetNXClaimsOnce", testSetNXClaimsOnce},
		{"SetNXConcurrent", testSetNXConcurrent},
		{"SetNXAfterExpiry", testSetNXAfterExpiry},
		{"DelExists", testDelExists},
		{"TTL", testTTL},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "kvtest:setget"

	if err := store.Set(ctx, key, []byte("inflight")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "inflight" {
		t.Fatalf("Get = %q, want %q", got, "inflight")
	}

	if err := store.Set(ctx, key, []byte("posted")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = store.Get(ctx, key)
	if string(got) != "posted" {
		t.Fatalf("Get after overwrite = %q, want %q", got, "posted")
	}
	store.Del(ctx, key)
}

func testGetMissing(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "kvtest:missing")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testSetNXClaimsOnce(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "kvtest:setnx"
	defer store.Del(ctx, key)

	ok, err := store.SetNX(ctx, key, []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v; want true, nil", ok, err)
	}
	ok, err = store.SetNX(ctx, key, []byte("b"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v; want false, nil", ok, err)
	}
	got, _ := store.Get(ctx, key)
	if string(got) != "a" {
		t.Fatalf("value = %q, want first writer's %q", got, "a")
	}
}

func testSetNXConcurrent(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "kvtest:setnx:race"
	defer store.Del(ctx, key)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := store.SetNX(ctx, key, []byte("x"), time.Minute); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("SetNX winners = %d, want 1", wins.Load())
	}
}

func testSetNXAfterExpiry(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "kvtest:setnx:ttl"
	defer store.Del(ctx, key)

	if ok, err := store.SetNX(ctx, key, []byte("a"), 50*time.Millisecond); err != nil || !ok {
		t.Fatalf("SetNX = %v, %v", ok, err)
	}
	time.Sleep(150 * time.Millisecond)
	ok, err := store.SetNX(ctx, key, []byte("b"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry = %v, %v; want true", ok, err)
	}
}

func testDelExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "kvtest:a", []byte("1"))
	store.Set(ctx, "kvtest:b", []byte("2"))

	n, err := store.Exists(ctx, "kvtest:a", "kvtest:b", "kvtest:c")
	if err != nil || n != 2 {
		t.Fatalf("Exists = %d, %v; want 2", n, err)
	}
	n, err = store.Del(ctx, "kvtest:a", "kvtest:c")
	if err != nil || n != 1 {
		t.Fatalf("Del = %d, %v; want 1", n, err)
	}
	n, _ = store.Exists(ctx, "kvtest:a")
	if n != 0 {
		t.Fatalf("deleted key still exists")
	}
	store.Del(ctx, "kvtest:b")
}

func testTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	defer store.Del(ctx, "kvtest:ttl", "kvtest:nottl")

	if _, err := store.TTL(ctx, "kvtest:ttl"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("TTL on missing key: expected ErrNotFound, got %v", err)
	}

	store.Set(ctx, "kvtest:nottl", []byte("v"))
	d, err := store.TTL(ctx, "kvtest:nottl")
	if err != nil || d != -1 {
		t.Fatalf("TTL without expiry = %v, %v; want -1", d, err)
	}

	store.Set(ctx, "kvtest:ttl", []byte("v"), 10*time.Second)
	d, err = store.TTL(ctx, "kvtest:ttl")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if d <= 0 || d > 10*time.Second {
		t.Fatalf("TTL = %v, want (0, 10s]", d)
	}
}

func testPing(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
