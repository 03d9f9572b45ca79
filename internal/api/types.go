package api

import (
	"time"

	"github.com/clawdops/outreach-desk/internal/audit"
	"github.com/clawdops/outreach-desk/internal/drafts"
)

type HealthDTO struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

type DraftDTO struct {
	Draft drafts.Draft `json:"draft"`
}

// ActionDTO is returned by the state transitions.
type ActionDTO struct {
	DraftID   string `json:"draftId"`
	State     string `json:"state"`
	RequestID string `json:"requestId,omitempty"`
}

type RescheduleRequest struct {
	ScheduledTime string `json:"scheduledTime"`
}

type RescheduleDTO struct {
	DraftID        string    `json:"draftId"`
	ScheduledTime  time.Time `json:"scheduledTime"`
	ScheduledLabel string    `json:"scheduledLabel"`
	RequestID      string    `json:"requestId,omitempty"`
}

// PostRequest is the body of POST /v1/drafts/{id}/post. Every field is
// optional. An empty text posts the draft's own body, a replyTo makes it a
// reply, and a scheduleTime reschedules instead of posting.
type PostRequest struct {
	Text         string  `json:"text,omitempty"`
	ReplyTo      *string `json:"replyTo,omitempty"`
	ScheduleTime string  `json:"scheduleTime,omitempty"`
}

type PostDTO struct {
	DraftID   string `json:"draftId"`
	Posted    bool   `json:"posted"`
	Scheduled bool   `json:"scheduled,omitempty"`
	Output    string `json:"output,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	// set when Scheduled
	ScheduledTime  *time.Time `json:"scheduledTime,omitempty"`
	ScheduledLabel string     `json:"scheduledLabel,omitempty"`
}

type HistoryDTO struct {
	DraftID string        `json:"draftId"`
	Events  []audit.Event `json:"events"`
}

type AuditDTO struct {
	Events []audit.Event `json:"events"`
	Limit  int           `json:"limit"`
}

type PlatformDTO struct {
	Name       drafts.Platform `json:"name"`
	Pending    int             `json:"pending"`
	Done       int             `json:"done"`
	Declined   int             `json:"declined"`
	CanPost    bool            `json:"canPost"`
	CanReply   bool            `json:"canReply"`
	Configured bool            `json:"configured"`
}

type PlatformsDTO struct {
	Platforms []PlatformDTO `json:"platforms"`
	AsOf      int64         `json:"asOf"`
}

type CredentialsDTO struct {
	Platform   drafts.Platform `json:"platform"`
	Configured bool            `json:"configured"`
	Account    string          `json:"account,omitempty"`
	Missing    []string        `json:"missing,omitempty"`
}

type NextSlotDTO struct {
	Platform drafts.Platform `json:"platform,omitempty"`
	Time     time.Time       `json:"time"`
	Label    string          `json:"label"`
	Timezone string          `json:"timezone"`
}

type AssetFileDTO struct {
	Name string `json:"name"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

type AssetListDTO struct {
	Files []AssetFileDTO `json:"files"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
