// Package kv provides a Redis-like key-value store abstraction with in-memory
// and Redis-backed implementations.
//
// The desk uses it for post write-ahead markers: a marker is claimed with
// SetNX before a draft is handed to a platform CLI, flipped after a successful
// post, and cleared on failure.
//
// Example usage:
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	ok, err := store.SetNX(ctx, "outreach:post:x:abc", []byte("inflight"), time.Minute)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if !ok {
//		log.Println("someone else is posting this draft")
//	}
//
// Backends register themselves through RegisterBackend from their package
// init, so callers import them for side effects:
//
//	import _ "github.com/clawdops/outreach-desk/pkg/kv/memory"
package kv
