package memory

import (
	"context"
	"sync"
	"time"

	"github.com/clawdops/outreach-desk/pkg/kv"
)

// Store is an in-memory implementation of the kv.Store interface
type Store struct {
	mu          sync.Mutex
	values      map[string][]byte
	expirations map[string]time.Time

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

// New creates a new in-memory store. A janitorInterval of zero disables the
// background sweep; expired keys are still dropped lazily on access.
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		values:          make(map[string][]byte),
		expirations:     make(map[string]time.Time),
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}

	return s
}

func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.expirations {
		if now.After(expiry) {
			s.deleteLocked(key)
		}
	}
}

// liveLocked reports whether key is present and unexpired, dropping it if it
// has expired. Caller holds s.mu.
func (s *Store) liveLocked(key string) bool {
	if expiry, ok := s.expirations[key]; ok && time.Now().After(expiry) {
		s.deleteLocked(key)
		return false
	}
	_, ok := s.values[key]
	return ok
}

func (s *Store) deleteLocked(key string) {
	delete(s.values, key)
	delete(s.expirations, key)
}

func (s *Store) putLocked(key string, value []byte, ttl time.Duration) {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.values[key] = cp
	if ttl > 0 {
		s.expirations[key] = time.Now().Add(ttl)
	} else {
		delete(s.expirations, key)
	}
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d time.Duration
	if len(ttl) > 0 {
		d = ttl[0]
	}
	s.putLocked(key, value, d)
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(key) {
		return nil, kv.ErrNotFound
	}
	v := s.values[key]
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveLocked(key) {
		return false, nil
	}
	s.putLocked(key, value, ttl)
	return true, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, key := range keys {
		if s.liveLocked(key) {
			n++
		}
		s.deleteLocked(key)
	}
	return n, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, key := range keys {
		if s.liveLocked(key) {
			n++
		}
	}
	return n, nil
}

// TTL returns the remaining lifetime of key, -1 when the key has no expiry,
// and kv.ErrNotFound when it does not exist.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(key) {
		return 0, kv.ErrNotFound
	}
	expiry, ok := s.expirations[key]
	if !ok {
		return -1, nil
	}
	return time.Until(expiry), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.janitorStop) })
	<-s.janitorDone
	return nil
}
