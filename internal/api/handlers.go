package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clawdops/outreach-desk/internal/audit"
	"github.com/clawdops/outreach-desk/internal/config"
	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/clawdops/outreach-desk/internal/poster"
	"github.com/clawdops/outreach-desk/internal/preview"
	"github.com/clawdops/outreach-desk/internal/schedule"
	"github.com/clawdops/outreach-desk/internal/ws"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PlatformPoster reports what a platform's posting command can do.
// *poster.Poster satisfies it.
type PlatformPoster interface {
	Supports(p drafts.Platform) (post, reply bool)
	Credentials(p drafts.Platform) (poster.CredentialsStatus, error)
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

const maxBodyBytes = 1 << 20

type Handler struct {
	service    *drafts.Service
	manager    *drafts.Manager
	poster     PlatformPoster
	audit      audit.Repository
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	readiness  map[string]Pinger
	config     *config.Config
	location   *time.Location
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewHandler(
	service *drafts.Service,
	manager *drafts.Manager,
	platformPoster PlatformPoster,
	auditRepo audit.Repository,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	readiness map[string]Pinger,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		service:    service,
		manager:    manager,
		poster:     platformPoster,
		audit:      auditRepo,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		readiness:  readiness,
		config:     cfg,
		location:   cfg.Location(),
		logger:     logger,
		now:        time.Now,
	}
}

// ListDrafts serves the aggregate listing, optionally narrowed to one platform
// and with rendered HTML when ?preview=true.
func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	listing, err := h.service.ListAll(r.Context())
	if err != nil {
		h.writeDraftError(w, r, err)
		return
	}

	if raw := r.URL.Query().Get("platform"); raw != "" {
		p, err := h.enabledPlatform(raw)
		if err != nil {
			h.writeDraftError(w, r, err)
			return
		}
		listing = listing.ForPlatform(p)
	}
	if wantPreview(r) {
		listing = preview.Listing(listing)
	}

	h.writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), draftIDParam(r))
	if err != nil {
		h.writeDraftError(w, r, err)
		return
	}
	if wantPreview(r) {
		preview.Draft(&d)
	}
	h.writeJSON(w, http.StatusOK, DraftDTO{Draft: d})
}

func (h *Handler) MarkDone(w http.ResponseWriter, r *http.Request) {
	id := draftIDParam(r)
	if err := h.manager.MarkDone(r.Context(), id); err != nil {
		h.writeDraftError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ActionDTO{
		DraftID:   id,
		State:     string(drafts.Done),
		RequestID: drafts.RequestIDFromContext(r.Context()),
	})
}

func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	id := draftIDParam(r)
	if err := h.manager.Decline(r.Context(), id); err != nil {
		h.writeDraftError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ActionDTO{
		DraftID:   id,
		State:     string(drafts.Declined),
		RequestID: drafts.RequestIDFromContext(r.Context()),
	})
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeDraftError(w, r, err)
		return
	}
	t, err := h.parseTime(req.ScheduledTime)
	if err != nil {
		h.writeDraftError(w, r, err)
		return
	}

	id := draftIDParam(r)
	if err := h.manager.Reschedule(r.Context(), id, t); err != nil {
		h.writeDraftError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RescheduleDTO{
		DraftID:        id,
		ScheduledTime:  t.UTC(),
		ScheduledLabel: schedule.Label(h.now().In(h.location), t.In(h.location)),
		RequestID:      drafts.RequestIDFromContext(r.Context()),
	})
}

// PostDraft posts the draft now, or reschedules it when scheduleTime is set.
func (h *Handler) PostDraft(w http.ResponseWriter, r *http.Request) {
	var req PostRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeDraftError(w, r, err)
		return
	}
	id := draftIDParam(r)
	requestID := drafts.RequestIDFromContext(r.Context())

	if strings.TrimSpace(req.ScheduleTime) != "" {
		t, err := h.parseTime(req.ScheduleTime)
		if err != nil {
			h.writeDraftError(w, r, err)
			return
		}
		if err := h.manager.Reschedule(r.Context(), id, t); err != nil {
			h.writeDraftError(w, r, err)
			return
		}
		utc := t.UTC()
		h.writeJSON(w, http.StatusOK, PostDTO{
			DraftID:        id,
			Scheduled:      true,
			ScheduledTime:  &utc,
			ScheduledLabel: schedule.Label(h.now().In(h.location), t.In(h.location)),
			RequestID:      requestID,
		})
		return
	}

	replyTo := req.ReplyTo
	if replyTo != nil && strings.TrimSpace(*replyTo) == "" {
		replyTo = nil
	}

	outcome, err := h.manager.PostNow(r.Context(), id, req.Text, replyTo)
	if err != nil {
		h.writeDraftError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PostDTO{
		DraftID:   outcome.DraftID,
		Posted:    true,
		Output:    outcome.Output,
		Resumed:   outcome.Resumed,
		RequestID: requestID,
	})
}

func (h *Handler) DraftHistory(w http.ResponseWriter, r *http.Request) {
	id, err := drafts.ParseID(draftIDParam(r))
	if err != nil {
		h.writeDraftError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		h.writeDraftError(w, r, err)
		return
	}

	events := []audit.Event{}
	if h.audit != nil {
		events, err = h.audit.ListByDraft(r.Context(), id.String(), limit)
		if err != nil {
			h.writeDraftError(w, r, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, HistoryDTO{DraftID: id.String(), Events: nonNil(events)})
}

func (h *Handler) RecentAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		h.writeDraftError(w, r, err)
		return
	}

	events := []audit.Event{}
	if h.audit != nil {
		events, err = h.audit.Recent(r.Context(), limit)
		if err != nil {
			h.writeDraftError(w, r, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, AuditDTO{Events: nonNil(events), Limit: limit})
}

func (h *Handler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	listing, err := h.service.ListAll(r.Context())
	if err != nil {
		h.writeDraftError(w, r, err)
		return
	}

	out := make([]PlatformDTO, 0, len(h.service.Platforms()))
	for _, p := range h.service.Platforms() {
		counts := listing.Stats[p]
		dto := PlatformDTO{
			Name:     p,
			Pending:  counts.Pending,
			Done:     counts.Done,
			Declined: counts.Declined,
		}
		if h.poster != nil {
			dto.CanPost, dto.CanReply = h.poster.Supports(p)
			if dto.CanPost {
				st, err := h.poster.Credentials(p)
				if err != nil {
					h.logger.Warnw("Failed to read platform credentials", "platform", p, "error", err)
				}
				dto.Configured = st.Configured
			}
		}
		out = append(out, dto)
	}

	h.writeJSON(w, http.StatusOK, PlatformsDTO{Platforms: out, AsOf: h.now().Unix()})
}

// PlatformCredentials reports whether the platform's credential file has every
// required key. Secret values are never returned.
func (h *Handler) PlatformCredentials(w http.ResponseWriter, r *http.Request) {
	p, err := h.enabledPlatform(chi.URLParam(r, "platform"))
	if err != nil {
		h.writeDraftError(w, r, err)
		return
	}

	dto := CredentialsDTO{Platform: p}
	if h.poster != nil {
		st, err := h.poster.Credentials(p)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "CREDENTIALS_UNREADABLE", err.Error())
			return
		}
		dto.Configured = st.Configured
		dto.Account = st.Account
		dto.Missing = st.Missing
	}
	h.writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) NextSlot(w http.ResponseWriter, r *http.Request) {
	var p drafts.Platform
	if raw := r.URL.Query().Get("platform"); raw != "" {
		var err error
		if p, err = h.enabledPlatform(raw); err != nil {
			h.writeDraftError(w, r, err)
			return
		}
	}

	s := schedule.Next(h.now(), h.location)
	h.writeJSON(w, http.StatusOK, NextSlotDTO{
		Platform: p,
		Time:     s.Time,
		Label:    s.Label,
		Timezone: h.location.String(),
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Readyz checks the outreach base and every registered dependency.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var reasons []string
	if err := h.service.Ready(); err != nil {
		reasons = append(reasons, "drafts: "+err.Error())
	}
	for name, p := range h.readiness {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			reasons = append(reasons, name+": "+err.Error())
		}
	}

	if len(reasons) > 0 {
		h.writeJSON(w, http.StatusServiceUnavailable, HealthDTO{Status: "unavailable", Reasons: reasons})
		return
	}
	h.writeJSON(w, http.StatusOK, HealthDTO{Status: "ready"})
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

func (h *Handler) enabledPlatform(raw string) (drafts.Platform, error) {
	p, err := drafts.ParsePlatform(raw)
	if err != nil {
		return "", err
	}
	if !h.service.Enabled(p) {
		return "", fmt.Errorf("%w: %s is not enabled", drafts.ErrUnknownPlatform, p)
	}
	return p, nil
}

// parseTime accepts RFC 3339 or any **Scheduled:** marker layout, read in the
// scheduling timezone when no offset is given.
func (h *Handler) parseTime(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, fmt.Errorf("%w: scheduledTime is required", drafts.ErrInvalidInput)
	}
	t, ok := drafts.ParseScheduleValue(raw, h.location)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unrecognised time %q", drafts.ErrInvalidInput, raw)
	}
	return t, nil
}

// draftIDParam reads {id}, tolerating clients that escape the colon.
func draftIDParam(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func wantPreview(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("preview"))
	return v
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return audit.DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", drafts.ErrInvalidInput)
	}
	return audit.ClampLimit(n), nil
}

// decodeBody reads an optional JSON body. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", drafts.ErrInvalidInput, err)
	}
	return nil
}

func nonNil(events []audit.Event) []audit.Event {
	if events == nil {
		return []audit.Event{}
	}
	return events
}

// errorStatus maps draft errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, drafts.ErrNotFound):
		return http.StatusNotFound, "DRAFT_NOT_FOUND"
	case errors.Is(err, drafts.ErrPostInFlight):
		return http.StatusConflict, "POST_IN_FLIGHT"
	case errors.Is(err, drafts.ErrConflict):
		return http.StatusConflict, "DRAFT_CONFLICT"
	case errors.Is(err, drafts.ErrNotConfigured):
		return http.StatusServiceUnavailable, "PLATFORM_NOT_CONFIGURED"
	case errors.Is(err, drafts.ErrExternalFailure):
		return http.StatusBadGateway, "EXTERNAL_FAILURE"
	case errors.Is(err, drafts.ErrInvalidTarget):
		return http.StatusBadRequest, "INVALID_TARGET"
	case errors.Is(err, drafts.ErrUnknownPlatform):
		return http.StatusBadRequest, "UNKNOWN_PLATFORM"
	case errors.Is(err, drafts.ErrInvalidID):
		return http.StatusBadRequest, "INVALID_ID"
	case errors.Is(err, drafts.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (h *Handler) writeDraftError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Code: code, Message: err.Error()}

	var ext *drafts.ExternalError
	if errors.As(err, &ext) {
		resp.Message = drafts.ErrExternalFailure.Error()
		resp.Details = ext.Output
		if resp.Details == "" && ext.Err != nil {
			resp.Details = ext.Err.Error()
		}
	}

	fields := []interface{}{
		"request_id", drafts.RequestIDFromContext(r.Context()),
		"code", code,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", fields...)
	} else {
		h.logger.Infow("API request rejected", fields...)
	}

	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warnw("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
