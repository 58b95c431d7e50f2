package models

import "encoding/json"

// Request is the JSON-RPC 2.0 envelope sent by the payment provider.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is the canonical reply. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody carries a protocol error code. Message is either a plain string
// or a {ru, uz, en} object.
type ErrorBody struct {
	Code    int         `json:"code"`
	Message interface{} `json:"message"`
	Data    string      `json:"data,omitempty"`
}

// NewResult wraps result in a success envelope for the request id.
func NewResult(id json.RawMessage, result interface{}) Response {
	return Response{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

// NewError wraps e in an error envelope for the request id.
func NewError(id json.RawMessage, e ErrorBody) Response {
	return Response{JSONRPC: "2.0", ID: normalizeID(id), Error: &e}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
