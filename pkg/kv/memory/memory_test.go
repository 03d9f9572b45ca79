package memory

import (
	"context"
	"testing"
	"time"

	"github.com/clawdops/outreach-desk/pkg/kv"
	"github.com/clawdops/outreach-desk/pkg/kv/kvtest"
)

func TestMemoryStore(t *testing.T) {
	kvtest.RunConformanceTests(t, func(t *testing.T) kv.Store {
		return New(0) // no janitor, deterministic
	})
}

func TestMemoryStoreWithJanitor(t *testing.T) {
	store := New(10 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "test:janitor", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	store.mu.Lock()
	_, still := store.values["test:janitor"]
	store.mu.Unlock()
	if still {
		t.Fatal("expected janitor to evict expired key")
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := New(0)
	ctx := context.Background()
	store.Set(ctx, "k", []byte("abc"))

	got, _ := store.Get(ctx, "k")
	got[0] = 'z'

	again, _ := store.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through Get result: %q", again)
	}
}
