package drafts

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state implied by which folder holds a draft file.
type State string

const (
	Pending  State = "pending"
	Done     State = "done"
	Declined State = "declined"
)

// dir is the folder name for the state under <base>/<platform>/.
func (s State) dir() string {
	switch s {
	case Pending:
		return "drafts"
	case Done:
		return "done"
	case Declined:
		return "declined"
	}
	return ""
}

// Draft is the extracted, read-only view of one draft file.
type Draft struct {
	ID                string     `json:"id"`
	Platform          Platform   `json:"platform"`
	FileID            string     `json:"fileId"`
	State             State      `json:"state"`
	Title             string     `json:"title"`
	TargetRef         string     `json:"targetRef,omitempty"`
	Label             string     `json:"label,omitempty"`
	Body              string     `json:"body,omitempty"`
	Caption           string     `json:"caption,omitempty"`
	Hashtags          string     `json:"hashtags,omitempty"`
	Assets            []string   `json:"assets"`
	CreatedAt         time.Time  `json:"createdAt"`
	ScheduledTime     *time.Time `json:"scheduledTime,omitempty"`
	ScheduledLabel    string     `json:"scheduledLabel,omitempty"`
	ScheduleSuggested bool       `json:"scheduleSuggested,omitempty"`

	BodyHTML    string `json:"bodyHtml,omitempty"`
	CaptionHTML string `json:"captionHtml,omitempty"`
}

// Accepted reports whether the draft carries anything to publish. Listings
// drop drafts that fail this check.
func (d *Draft) Accepted() bool {
	return strings.TrimSpace(d.Body) != "" || strings.TrimSpace(d.Caption) != ""
}

// ID is a parsed "{platform}:{fileId}" draft identifier.
type ID struct {
	Platform Platform
	FileID   string
}

func (id ID) String() string {
	return string(id.Platform) + ":" + id.FileID
}

// ParseID splits "{platform}:{fileId}". The file id itself may contain colons.
func ParseID(raw string) (ID, error) {
	platform, fileID, ok := strings.Cut(raw, ":")
	if !ok || fileID == "" {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	p, err := ParsePlatform(platform)
	if err != nil {
		return ID{}, err
	}
	return ID{Platform: p, FileID: fileID}, nil
}
