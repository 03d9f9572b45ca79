package drafts

import (
	"context"
	"time"
)

// EventsChannel is the pub/sub channel draft events are published on.
const EventsChannel = "outreach:drafts:events"

// EventType names what happened to a draft.
type EventType string

const (
	EventDone        EventType = "done"
	EventDeclined    EventType = "declined"
	EventRescheduled EventType = "rescheduled"
	EventPosted      EventType = "posted"
	EventPostFailed  EventType = "post_failed"
	// EventChanged is emitted by the workspace watcher for edits made outside
	// the desk.
	EventChanged EventType = "changed"
)

type Event struct {
	Type     EventType `json:"type"`
	DraftID  string    `json:"draftId,omitempty"`
	Platform Platform  `json:"platform,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher fans events out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Invalidator drops cached listings after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context)
}
