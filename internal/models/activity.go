package models

import (
	"time"

	"github.com/google/uuid"
)

// Activity event kinds.
const (
	ActivityKeyboard = "keyboard"
	ActivityMouse    = "mouse"
	ActivityIdle     = "idle"
	ActivitySystem   = "system"
)

// ActivityEvent is an immutable record of one captured input event or
// derived transition. Intensity is normalized to [0,1].
type ActivityEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"`
	Intensity float64                `json:"intensity"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// QueuedActivityEvent is the wire shape pushed onto the redis
// activity-event queue and drained by the worker pool.
type QueuedActivityEvent struct {
	SessionID uuid.UUID              `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"`
	Intensity float64                `json:"intensity"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ActivityStats is the Activity Sampler's point-in-time snapshot.
type ActivityStats struct {
	TotalSeconds    int     `json:"total_seconds"`
	ActiveSeconds   int     `json:"active_seconds"`
	IdleSeconds     int     `json:"idle_seconds"`
	Productivity    float64 `json:"productivity"`
	Intensity       float64 `json:"intensity"`
	CurrentlyActive bool    `json:"currently_active"`
}

// MonitorHealth reports the sampler's operational flags.
type MonitorHealth struct {
	Monitoring       bool      `json:"monitoring"`
	Paused           bool      `json:"paused"`
	FallbackMode     bool      `json:"fallback_mode"`
	CurrentSessionID uuid.UUID `json:"current_session_id"`
	HistorySize      int       `json:"activity_history_size"`
	LastActivity     time.Time `json:"last_activity"`
}
