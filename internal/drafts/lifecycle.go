package drafts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clawdops/outreach-desk/internal/audit"
	"github.com/clawdops/outreach-desk/internal/metrics"
	"github.com/clawdops/outreach-desk/pkg/kv"
	"go.uber.org/zap"
)

// PostRequest is what the lifecycle manager hands to a platform poster.
type PostRequest struct {
	Platform Platform
	DraftID  string
	Text     string
	// ReplyTo is the raw reply target (URL or id); empty means a new post.
	ReplyTo string
}

// PostResult carries the collaborator's output on success.
type PostResult struct {
	Output string
}

// Poster publishes text to a platform. Implementations return errors wrapping
// ErrNotConfigured, ErrInvalidTarget or an *ExternalError.
type Poster interface {
	Post(ctx context.Context, req PostRequest) (PostResult, error)
}

// PostOutcome is returned by PostNow.
type PostOutcome struct {
	DraftID string `json:"draftId"`
	Output  string `json:"output,omitempty"`
	// Resumed is set when an earlier attempt had already posted and this call
	// only completed the move to done.
	Resumed bool `json:"resumed,omitempty"`
}

const (
	markerPrefix   = "outreach:post:"
	markerInflight = "inflight"
	markerPosted   = "posted"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithPoster(p Poster) ManagerOption {
	return func(m *Manager) { m.poster = p }
}

// WithMarkers enables write-ahead post markers in store.
func WithMarkers(store kv.Store, inflightTTL time.Duration) ManagerOption {
	return func(m *Manager) {
		m.markers = store
		if inflightTTL > 0 {
			m.inflightTTL = inflightTTL
		}
	}
}

func WithAudit(r audit.Recorder) ManagerOption {
	return func(m *Manager) { m.audit = r }
}

func WithPublisher(p Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

func WithInvalidator(i Invalidator) ManagerOption {
	return func(m *Manager) { m.invalidator = i }
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

func WithExtractor(e *Extractor) ManagerOption {
	return func(m *Manager) { m.extractor = e }
}

// Manager is the only component that mutates the draft store. Each call
// applies at most one transition.
type Manager struct {
	store       *Store
	extractor   *Extractor
	poster      Poster
	markers     kv.Store
	inflightTTL time.Duration
	postedTTL   time.Duration
	audit       audit.Recorder
	publisher   Publisher
	invalidator Invalidator
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger
	now         func() time.Time
}

func NewManager(store *Store, logger *zap.SugaredLogger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		logger:      logger,
		inflightTTL: 2 * time.Minute,
		postedTTL:   24 * time.Hour,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop().Sugar()
	}
	if m.extractor == nil {
		m.extractor = NewExtractor("", nil)
	}
	return m
}

// MarkDone moves a pending draft to done.
func (m *Manager) MarkDone(ctx context.Context, rawID string) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}
	err = m.store.Move(id.Platform, id.FileID, Pending, Done)
	m.after(ctx, id, audit.ActionDone, EventDone, "", err)
	return err
}

// Decline moves a pending draft to declined. The file is kept for audit.
func (m *Manager) Decline(ctx context.Context, rawID string) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}
	err = m.store.Move(id.Platform, id.FileID, Pending, Declined)
	m.after(ctx, id, audit.ActionDecline, EventDeclined, "", err)
	return err
}

// Reschedule rewrites a pending draft's **Scheduled:** marker to t.
func (m *Manager) Reschedule(ctx context.Context, rawID string, t time.Time) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}
	if t.IsZero() {
		return fmt.Errorf("%w: schedule time is required", ErrInvalidInput)
	}
	err = m.store.RewriteScheduleMarker(id.Platform, id.FileID, t)
	m.after(ctx, id, audit.ActionReschedule, EventRescheduled, FormatSchedule(t), err)
	return err
}

// PostNow hands text to the platform poster and, on success, marks the draft
// done. Empty text falls back to the draft's body, then its caption. On
// failure the draft stays pending and the poster's error is returned as is.
//
// With markers enabled, a "posted" marker survives a failed move so a retry
// finishes the move without posting twice.
func (m *Manager) PostNow(ctx context.Context, rawID, text string, replyTarget *string) (PostOutcome, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return PostOutcome{}, err
	}
	outcome := PostOutcome{DraftID: id.String()}

	raw, err := m.store.ReadRaw(id.Platform, id.FileID)
	if err != nil {
		m.after(ctx, id, audit.ActionPost, EventPostFailed, "", err)
		return outcome, err
	}

	if strings.TrimSpace(text) == "" {
		d := m.extractor.Extract(id.Platform, id.FileID, raw.Content, raw.ModTime)
		text = d.Body
		if text == "" {
			text = d.Caption
		}
	}
	if strings.TrimSpace(text) == "" {
		return outcome, fmt.Errorf("%w: nothing to post for %s", ErrInvalidInput, id)
	}

	if m.poster == nil {
		err := fmt.Errorf("%w: no poster for %s", ErrNotConfigured, id.Platform)
		m.after(ctx, id, audit.ActionPost, EventPostFailed, "", err)
		return outcome, err
	}

	key := markerPrefix + id.String()
	claimed, resumed, err := m.claimMarker(ctx, key)
	if err != nil {
		m.after(ctx, id, audit.ActionPost, EventPostFailed, "", err)
		return outcome, err
	}

	if !resumed {
		req := PostRequest{Platform: id.Platform, DraftID: id.String(), Text: text}
		if replyTarget != nil {
			req.ReplyTo = strings.TrimSpace(*replyTarget)
		}

		start := m.now()
		res, err := m.poster.Post(ctx, req)
		m.metrics.RecordPost(ctx, string(id.Platform), outcomeCode(err), m.now().Sub(start))
		if err != nil {
			if claimed {
				m.clearMarker(ctx, key)
			}
			m.after(ctx, id, audit.ActionPost, EventPostFailed, "", err)
			return outcome, err
		}
		outcome.Output = res.Output

		if claimed {
			if err := m.markers.Set(ctx, key, []byte(markerPosted), m.postedTTL); err != nil {
				m.logger.Warnw("Failed to flip post marker to posted", "draft", id.String(), "error", err)
			}
		}
	} else {
		outcome.Resumed = true
		m.logger.Infow("Completing previously posted draft", "draft", id.String())
	}

	if err := m.store.Move(id.Platform, id.FileID, Pending, Done); err != nil {
		m.logger.Errorw("Posted but failed to mark done", "draft", id.String(), "error", err)
		m.after(ctx, id, audit.ActionPost, EventPosted, outcome.Output, fmt.Errorf("posted, mark done failed: %w", err))
		return outcome, fmt.Errorf("posted but could not mark %s done: %w", id, err)
	}
	if claimed || resumed {
		m.clearMarker(ctx, key)
	}

	m.after(ctx, id, audit.ActionPost, EventPosted, outcome.Output, nil)
	return outcome, nil
}

// claimMarker takes the write-ahead marker for key. resumed reports a marker
// left in the posted state by an earlier attempt. A marker store outage
// degrades to posting without a marker.
func (m *Manager) claimMarker(ctx context.Context, key string) (claimed, resumed bool, err error) {
	if m.markers == nil {
		return false, false, nil
	}

	ok, err := m.markers.SetNX(ctx, key, []byte(markerInflight), m.inflightTTL)
	if err != nil {
		m.logger.Warnw("Post marker unavailable; posting without idempotency guard", "key", key, "error", err)
		return false, false, nil
	}
	if ok {
		return true, false, nil
	}

	state, err := m.markers.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		// expired between SetNX and Get; try once more
		if ok, err := m.markers.SetNX(ctx, key, []byte(markerInflight), m.inflightTTL); err == nil && ok {
			return true, false, nil
		}
		return false, false, ErrPostInFlight
	case err != nil:
		m.logger.Warnw("Post marker unreadable", "key", key, "error", err)
		return false, false, ErrPostInFlight
	case string(state) == markerPosted:
		return false, true, nil
	}
	if ttl, err := m.markers.TTL(ctx, key); err == nil && ttl > 0 {
		return false, false, fmt.Errorf("%w: claim expires in %s", ErrPostInFlight, ttl.Round(time.Second))
	}
	return false, false, ErrPostInFlight
}

func (m *Manager) clearMarker(ctx context.Context, key string) {
	if m.markers == nil {
		return
	}
	if _, err := m.markers.Del(context.WithoutCancel(ctx), key); err != nil {
		m.logger.Warnw("Failed to clear post marker", "key", key, "error", err)
	}
}

// after records the outcome of one transition: audit row, metric, log line and,
// on success, a published event and cache invalidation.
func (m *Manager) after(ctx context.Context, id ID, action audit.Action, evType EventType, detail string, err error) {
	// side effects must land even if the caller hung up mid-request
	ctx = context.WithoutCancel(ctx)
	code := outcomeCode(err)
	m.metrics.RecordTransition(ctx, string(id.Platform), string(action), code)

	ev := audit.Event{
		DraftID:   id.String(),
		Platform:  string(id.Platform),
		Action:    action,
		Outcome:   audit.OutcomeOK,
		Detail:    detail,
		RequestID: RequestIDFromContext(ctx),
		At:        m.now().UTC(),
	}
	if err != nil {
		ev.Outcome = audit.OutcomeFailed
		ev.Detail = err.Error()
		if errors.Is(err, ErrNotFound) {
			m.logger.Debugw("Transition rejected", "draft", ev.DraftID, "action", action, "error", err)
		} else {
			m.logger.Warnw("Transition failed", "draft", ev.DraftID, "action", action, "error", err)
		}
	} else {
		m.logger.Infow("Transition applied", "draft", ev.DraftID, "action", action)
	}

	if m.audit != nil {
		if aerr := m.audit.Record(ctx, ev); aerr != nil {
			m.logger.Errorw("Failed to record audit event", "draft", ev.DraftID, "error", aerr)
		}
	}

	// only collaborator failures are broadcast; nothing changed on disk
	if err != nil && !(evType == EventPostFailed && errors.Is(err, ErrExternalFailure)) {
		return
	}
	if m.invalidator != nil && err == nil {
		m.invalidator.Invalidate(ctx)
	}
	if m.publisher != nil {
		pe := Event{Type: evType, DraftID: ev.DraftID, Platform: id.Platform, At: ev.At}
		if err != nil {
			pe.Detail = err.Error()
		}
		if perr := m.publisher.Publish(ctx, EventsChannel, pe); perr != nil {
			m.logger.Warnw("Failed to publish draft event", "draft", ev.DraftID, "error", perr)
		}
	}
}

// outcomeCode is the metric label for err.
func outcomeCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrPostInFlight):
		return "in_flight"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrExternalFailure):
		return "external_failure"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
