package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps the most recent events in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []Event
	nextID int64
	cap    int
}

// NewMemoryRepository retains up to capacity events; older ones are dropped.
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryRepository{cap: capacity}
}

func (r *MemoryRepository) Record(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ev.ID = r.nextID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	r.events = append(r.events, ev)
	if over := len(r.events) - r.cap; over > 0 {
		r.events = append([]Event(nil), r.events[over:]...)
	}
	return nil
}

// ListByDraft returns a draft's events, newest first.
func (r *MemoryRepository) ListByDraft(ctx context.Context, draftID string, limit int) ([]Event, error) {
	limit = ClampLimit(limit)
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Event{}
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.events[i].DraftID == draftID {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

// Recent returns the newest events across all drafts.
func (r *MemoryRepository) Recent(ctx context.Context, limit int) ([]Event, error) {
	limit = ClampLimit(limit)
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, min(limit, len(r.events)))
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.events[i])
	}
	return out, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }
