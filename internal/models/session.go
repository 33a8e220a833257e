package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a study session. Exactly one
// session is live at a time; Completed is terminal.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateActive    SessionState = "active"
	StatePaused    SessionState = "paused"
	StateCompleted SessionState = "completed"
)

// StateTransition is an append-only record of a single state change.
type StateTransition struct {
	Timestamp      time.Time    `json:"timestamp"`
	FromState      SessionState `json:"from_state"`
	ToState        SessionState `json:"to_state"`
	Reason         string       `json:"reason"`
	SessionSeconds float64      `json:"session_seconds"`
}

type Session struct {
	ID              uuid.UUID              `json:"id"`
	Topic           string                 `json:"topic"`
	Description     string                 `json:"description"`
	Metadata        map[string]interface{} `json:"metadata"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         *time.Time             `json:"end_time,omitempty"`
	ActiveSeconds   int                    `json:"active_seconds"`
	IdleSeconds     int                    `json:"idle_seconds"`
	TotalSeconds    int                    `json:"total_seconds"`
	Productivity    float64                `json:"productivity"`
	Success         bool                   `json:"success"`
	CompletionNotes string                 `json:"completion_notes"`
	StateHistory    []StateTransition      `json:"state_history,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// SessionStats is the live time-accounting snapshot returned by pause,
// resume and status calls.
type SessionStats struct {
	TotalSeconds  int     `json:"total_seconds"`
	ActiveSeconds int     `json:"active_seconds"`
	IdleSeconds   int     `json:"idle_seconds"`
	Productivity  float64 `json:"productivity"`
}

// SessionSummary is returned once on stop.
type SessionSummary struct {
	SessionID         uuid.UUID `json:"session_id"`
	Topic             string    `json:"topic"`
	TotalMinutes      int       `json:"total_minutes"`
	ActiveMinutes     int       `json:"active_minutes"`
	IdleMinutes       int       `json:"idle_minutes"`
	Productivity      float64   `json:"productivity"`
	ProductivityLevel string    `json:"productivity_level"`
	Success           bool      `json:"success"`
}

type SessionStatus struct {
	Active         bool         `json:"active"`
	State          SessionState `json:"state"`
	TotalSeconds   int          `json:"total_seconds"`
	ActiveSeconds  int          `json:"active_seconds"`
	IdleSeconds    int          `json:"idle_seconds"`
	Productivity   float64      `json:"productivity"`
	CurrentSession *Session     `json:"current_session"`
}

// SessionFilter narrows history listings.
type SessionFilter struct {
	Limit    int
	Offset   int
	DateFrom *time.Time
	DateTo   *time.Time
}
