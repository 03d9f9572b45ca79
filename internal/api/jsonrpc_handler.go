package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/clawdops/outreach-desk/internal/preview"
	"github.com/clawdops/outreach-desk/internal/schedule"
)

type rpcMethod func(ctx context.Context, params json.RawMessage) (interface{}, error)

// errInvalidParams marks a params decoding failure.
var errInvalidParams = errors.New("invalid params")

func (h *Handler) rpcMethods() map[string]rpcMethod {
	return map[string]rpcMethod{
		"drafts.list":       h.rpcList,
		"drafts.get":        h.rpcGet,
		"drafts.markDone":   h.rpcMarkDone,
		"drafts.decline":    h.rpcDecline,
		"drafts.reschedule": h.rpcReschedule,
		"drafts.post":       h.rpcPost,
		"schedule.next":     h.rpcNextSlot,
	}
}

// HandleJSONRPC exposes the draft operations to scripts and drafting agents
// as JSON-RPC 2.0. Errors are returned with HTTP 200.
func (h *Handler) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONRPCError(w, nil, JSONRPCParseError, "Parse error", err.Error())
		return
	}
	if req.JSONRPC != "2.0" {
		h.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")
		return
	}

	method, ok := h.rpcMethods()[req.Method]
	if !ok {
		h.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "Method not found", fmt.Sprintf("Method '%s' not found", req.Method))
		return
	}

	result, err := method(r.Context(), req.Params)
	if err != nil {
		code, message, data := rpcError(err)
		h.logger.Infow("JSON-RPC call failed",
			"request_id", drafts.RequestIDFromContext(r.Context()),
			"method", req.Method,
			"error", err,
		)
		h.sendJSONRPCError(w, req.ID, code, message, data)
		return
	}

	h.writeJSON(w, http.StatusOK, JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (h *Handler) sendJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	h.writeJSON(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

// rpcError reuses the REST error codes as the error data.
func rpcError(err error) (int, string, interface{}) {
	if errors.Is(err, errInvalidParams) {
		return JSONRPCInvalidParams, "Invalid params", err.Error()
	}
	status, code := errorStatus(err)
	data := ErrorResponse{Code: code, Message: err.Error()}
	var ext *drafts.ExternalError
	if errors.As(err, &ext) {
		data.Details = ext.Output
	}

	switch status {
	case http.StatusNotFound:
		return JSONRPCDraftNotFound, "Draft not found", data
	case http.StatusConflict:
		return JSONRPCConflict, "Conflict", data
	case http.StatusServiceUnavailable:
		return JSONRPCUnavailable, "Platform not configured", data
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return JSONRPCUpstream, "Posting failed", data
	case http.StatusBadRequest:
		return JSONRPCInvalidParams, "Invalid params", data
	default:
		return JSONRPCInternalError, "Internal error", data
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func (h *Handler) rpcList(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p ListParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	listing, err := h.service.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if p.Platform != "" {
		platform, err := h.enabledPlatform(p.Platform)
		if err != nil {
			return nil, err
		}
		listing = listing.ForPlatform(platform)
	}
	if p.Preview {
		listing = preview.Listing(listing)
	}
	return listing, nil
}

func (h *Handler) rpcGet(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p DraftParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	d, err := h.service.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return DraftDTO{Draft: d}, nil
}

func (h *Handler) rpcMarkDone(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p DraftParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := h.manager.MarkDone(ctx, p.ID); err != nil {
		return nil, err
	}
	return ActionDTO{DraftID: p.ID, State: string(drafts.Done), RequestID: drafts.RequestIDFromContext(ctx)}, nil
}

func (h *Handler) rpcDecline(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p DraftParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := h.manager.Decline(ctx, p.ID); err != nil {
		return nil, err
	}
	return ActionDTO{DraftID: p.ID, State: string(drafts.Declined), RequestID: drafts.RequestIDFromContext(ctx)}, nil
}

func (h *Handler) rpcReschedule(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p RescheduleParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	t, err := h.parseTime(p.ScheduledTime)
	if err != nil {
		return nil, err
	}
	if err := h.manager.Reschedule(ctx, p.ID, t); err != nil {
		return nil, err
	}
	return RescheduleDTO{
		DraftID:        p.ID,
		ScheduledTime:  t.UTC(),
		ScheduledLabel: schedule.Label(h.now(), t.In(h.location)),
		RequestID:      drafts.RequestIDFromContext(ctx),
	}, nil
}

func (h *Handler) rpcPost(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p PostParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	replyTo := p.ReplyTo
	if replyTo != nil && strings.TrimSpace(*replyTo) == "" {
		replyTo = nil
	}
	outcome, err := h.manager.PostNow(ctx, p.ID, p.Text, replyTo)
	if err != nil {
		return nil, err
	}
	return PostDTO{
		DraftID:   outcome.DraftID,
		Posted:    true,
		Output:    outcome.Output,
		Resumed:   outcome.Resumed,
		RequestID: drafts.RequestIDFromContext(ctx),
	}, nil
}

func (h *Handler) rpcNextSlot(_ context.Context, _ json.RawMessage) (interface{}, error) {
	s := schedule.Next(h.now(), h.location)
	return NextSlotDTO{Time: s.Time, Label: s.Label, Timezone: h.location.String()}, nil
}
