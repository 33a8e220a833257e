package models

import (
	"github.com/google/uuid"
)

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatsUpdate is pushed to clients on every intensity tick while a
// session is running.
type StatsUpdate struct {
	SessionID uuid.UUID `json:"session_id"`
	Intensity float64   `json:"intensity"`
	Idle      bool      `json:"idle"`
}

// TelemetryMessage is the inbound shape clients send over the WebSocket
// to report raw input activity.
type TelemetryMessage struct {
	Type string  `json:"type"` // "keyboard" | "mouse_move" | "mouse_click"
	Key  string  `json:"key,omitempty"`
	X    float64 `json:"x,omitempty"`
	Y    float64 `json:"y,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
