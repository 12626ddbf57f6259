// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package wire defines the JSON-RPC 2.0 frame subset spoken on every
// gateway channel. Call frames flow inbound, response frames flow back in
// whatever order the calls actually complete, correlated by id.
package wire

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC protocol version accepted on the wire.
const Version = "2.0"

// Standard JSON-RPC error codes emitted by the gateway.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeInternalError  = -32603
	// CodeUnauthorized is the JSON-RPC mapping of a 401-equivalent auth
	// failure resolved at the gateway boundary.
	CodeUnauthorized = -32001
	// CodeUpstreamError wraps an opaque failure from the wrapped service.
	CodeUpstreamError = -32002
)

// Frame is one inbound call. The id is the caller's correlation handle;
// a frame with a null/absent id is a notification and receives no response.
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one outbound completion, either Result or Error set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error carries a structured JSON-RPC failure. The message never contains
// raw credentials.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Decode parses a single frame and enforces the protocol version.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.JSONRPC != Version {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", f.JSONRPC)
	}
	if f.Method == "" {
		return nil, fmt.Errorf("frame missing method")
	}
	return &f, nil
}

// IsNotification reports whether the frame carries no correlation id and
// therefore expects no response.
func (f *Frame) IsNotification() bool {
	return len(f.ID) == 0 || string(f.ID) == "null"
}

// CallID renders the correlation id as a stable string key for in-flight
// tracking.
func (f *Frame) CallID() string {
	return string(f.ID)
}

// NewResult builds a success response correlated to the given call id.
func NewResult(id json.RawMessage, result json.RawMessage) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response correlated to the given call id.
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// Encode serializes a response for the wire.
func (r *Response) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}
