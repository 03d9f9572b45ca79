package api

import "encoding/json"

// JSON-RPC 2.0 request structure
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// DraftParams addresses one draft.
type DraftParams struct {
	ID string `json:"id"`
}

type ListParams struct {
	Platform string `json:"platform,omitempty"`
	Preview  bool   `json:"preview,omitempty"`
}

type RescheduleParams struct {
	ID            string `json:"id"`
	ScheduledTime string `json:"scheduledTime"`
}

type PostParams struct {
	ID      string  `json:"id"`
	Text    string  `json:"text,omitempty"`
	ReplyTo *string `json:"replyTo,omitempty"`
}

// Standard JSON-RPC codes, then application codes in the server range.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603

	JSONRPCDraftNotFound = -32004
	JSONRPCConflict      = -32009
	JSONRPCUnavailable   = -32003
	JSONRPCUpstream      = -32002
)
