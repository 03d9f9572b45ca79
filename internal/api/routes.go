package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouteConfig carries the security and timeout settings from main.
type RouteConfig struct {
	CORSOrigins    []string
	MirrorOrigins  bool
	RateLimitRPM   int
	RequestTimeout time.Duration
	// PostTimeout bounds a post request; it must exceed the posting CLI timeout.
	PostTimeout time.Duration
}

func (h *Handler) Routes(m *Middleware, rc RouteConfig) *chi.Mux {
	if rc.RequestTimeout <= 0 {
		rc.RequestTimeout = 15 * time.Second
	}
	if rc.PostTimeout <= 0 {
		rc.PostTimeout = 45 * time.Second
	}

	r := chi.NewRouter()

	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(rc.CORSOrigins, rc.MirrorOrigins))
	r.Use(m.RateLimit(rc.RateLimitRPM))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1", func(r chi.Router) {
		// streaming responses; TimeoutHandler would buffer them
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/assets", h.Assets)

		r.Group(func(r chi.Router) {
			r.Use(m.Compress)
			r.Use(m.Timeout(rc.RequestTimeout))

			r.Get("/drafts", h.ListDrafts)
			r.Get("/drafts/{id}", h.GetDraft)
			r.Get("/drafts/{id}/history", h.DraftHistory)
			r.Post("/drafts/{id}/done", h.MarkDone)
			r.Post("/drafts/{id}/decline", h.Decline)
			r.Post("/drafts/{id}/reschedule", h.Reschedule)

			r.Get("/audit", h.RecentAudit)
			r.Get("/platforms", h.ListPlatforms)
			r.Get("/platforms/{platform}/credentials", h.PlatformCredentials)
			r.Get("/schedule/next", h.NextSlot)
		})

		// posting shells out and may take as long as the CLI timeout
		r.Group(func(r chi.Router) {
			r.Use(m.Compress)
			r.Use(m.Timeout(rc.PostTimeout))

			r.Post("/drafts/{id}/post", h.PostDraft)
			r.Post("/jsonrpc", h.HandleJSONRPC)
		})
	})

	return r
}
