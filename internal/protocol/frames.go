// Package protocol defines the wire frames exchanged over the gateway
// WebSocket and the error shape shared by every response.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the fixed protocol version spoken by this server.
const Version = 3

// Wire error codes. The enum is closed; handlers never invent codes.
const (
	ErrorInvalidRequest = "INVALID_REQUEST"
	ErrorNotLinked      = "NOT_LINKED"
	ErrorNotPaired      = "NOT_PAIRED"
	ErrorAgentTimeout   = "AGENT_TIMEOUT"
	ErrorUnavailable    = "UNAVAILABLE"
)

// RequestFrame is a client request. Params stay raw until the handler
// decodes them.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame carries exactly one of Payload (ok) or Error (not ok).
type ResponseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the uniform wire error.
type ErrorShape struct {
	Code         string      `json:"code"`
	Message      string      `json:"message"`
	Details      interface{} `json:"details,omitempty"`
	Retryable    *bool       `json:"retryable,omitempty"`
	RetryAfterMs *int64      `json:"retryAfterMs,omitempty"`
}

func NewError(code, message string) *ErrorShape {
	return &ErrorShape{Code: code, Message: message}
}

func (e *ErrorShape) WithDetails(details interface{}) *ErrorShape {
	e.Details = details
	return e
}

func (e *ErrorShape) WithRetry(afterMs int64) *ErrorShape {
	retryable := true
	e.Retryable = &retryable
	e.RetryAfterMs = &afterMs
	return e
}

// ParseRequestFrame validates a decoded text message into a request.
func ParseRequestFrame(data []byte) (*RequestFrame, *ErrorShape) {
	var frame RequestFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, NewError(ErrorInvalidRequest, fmt.Sprintf("invalid request frame: %v", err))
	}
	if frame.Type != "req" {
		return nil, NewError(ErrorInvalidRequest, "invalid request frame: expected type=req")
	}
	frame.ID = strings.TrimSpace(frame.ID)
	if frame.ID == "" {
		return nil, NewError(ErrorInvalidRequest, "invalid request frame: missing id")
	}
	frame.Method = strings.TrimSpace(frame.Method)
	if frame.Method == "" {
		return nil, NewError(ErrorInvalidRequest, "invalid request frame: missing method")
	}
	return &frame, nil
}

// ExtractFrameID pulls an id out of an unparseable message so the error
// response still correlates; falls back to "invalid".
func ExtractFrameID(data []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		if id := strings.TrimSpace(probe.ID); id != "" {
			return id
		}
	}
	return "invalid"
}

func ResponseOK(id string, payload interface{}) *ResponseFrame {
	return &ResponseFrame{Type: "res", ID: id, OK: true, Payload: payload}
}

func ResponseError(id string, shape *ErrorShape) *ResponseFrame {
	return &ResponseFrame{Type: "res", ID: id, OK: false, Error: shape}
}
