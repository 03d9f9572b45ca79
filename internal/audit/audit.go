// Package audit keeps an append-only log of draft lifecycle actions.
package audit

import (
	"context"
	"time"
)

// Action names a lifecycle operation.
type Action string

const (
	ActionDone       Action = "done"
	ActionDecline    Action = "decline"
	ActionReschedule Action = "reschedule"
	ActionPost       Action = "post"
)

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Event is one recorded action. Detail holds the external output on posts and
// the error message on failures.
type Event struct {
	ID        int64     `json:"id"`
	DraftID   string    `json:"draftId"`
	Platform  string    `json:"platform"`
	Action    Action    `json:"action"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	At        time.Time `json:"at"`
}

// Recorder is the write side used by the lifecycle manager.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Repository is the full audit store.
type Repository interface {
	Recorder
	ListByDraft(ctx context.Context, draftID string, limit int) ([]Event, error)
	Recent(ctx context.Context, limit int) ([]Event, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ClampLimit keeps list sizes within [1, MaxLimit], using DefaultLimit for 0.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
