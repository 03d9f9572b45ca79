package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/clawdops/outreach-desk/internal/metrics"
	"go.uber.org/zap"
)

type SSEHandler struct {
	source         Subscriber
	allowedOrigins []string
	logger         *zap.SugaredLogger
	metrics        *metrics.Metrics
	heartbeat      time.Duration
	seq            atomic.Uint64
}

func NewSSEHandler(source Subscriber, allowedOrigins []string, logger *zap.SugaredLogger, m *metrics.Metrics) *SSEHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SSEHandler{
		source:         source,
		allowedOrigins: allowedOrigins,
		logger:         logger,
		metrics:        m,
		heartbeat:      30 * time.Second,
	}
}

// HandleSSE streams draft events. ?platforms=x,reddit narrows the stream.
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	if origin := r.Header.Get("Origin"); origin != "" {
		for _, allowed := range h.allowedOrigins {
			if allowed == origin || allowed == "*" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
	}

	filter := map[string]bool{}
	for _, p := range parsePlatforms(r) {
		filter[p] = true
	}

	ctx := r.Context()
	sub := h.source.Subscribe(ctx, drafts.EventsChannel)
	defer sub.Close()

	h.metrics.IncrementConnections(ctx)
	defer h.metrics.DecrementConnections(ctx)
	h.logger.Debugw("SSE connection established", "platforms", parsePlatforms(r))

	h.sendEvent(w, flusher, "connected", map[string]interface{}{
		"timestamp": time.Now().Unix(),
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, flusher, "heartbeat", map[string]interface{}{
				"timestamp": time.Now().Unix(),
			})

		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev drafts.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.logger.Warnw("Failed to parse draft event", "error", err)
				continue
			}
			if len(filter) > 0 && !filter[string(ev.Platform)] {
				continue
			}
			h.sendEvent(w, flusher, string(ev.Type), json.RawMessage(msg.Payload))
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Errorw("Failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "id: %d\n", h.seq.Add(1))
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// parsePlatforms reads ?platforms=a,b (or ?platform=a), lowercased.
func parsePlatforms(r *http.Request) []string {
	raw := r.URL.Query().Get("platforms")
	if raw == "" {
		raw = r.URL.Query().Get("platform")
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
