package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studytrack-backend/internal/models"
	"studytrack-backend/internal/monitor"
	"studytrack-backend/internal/repository"
	"studytrack-backend/internal/session"
)

// SessionHandler drives the session state machine and the activity
// monitor together: every lifecycle endpoint mutates both.
type SessionHandler struct {
	manager      *session.Manager
	monitor      *monitor.Monitor
	sessionRepo  *repository.SessionRepo
	activityRepo *repository.ActivityRepo
}

func NewSessionHandler(manager *session.Manager, mon *monitor.Monitor, sessionRepo *repository.SessionRepo, activityRepo *repository.ActivityRepo) *SessionHandler {
	return &SessionHandler{
		manager:      manager,
		monitor:      mon,
		sessionRepo:  sessionRepo,
		activityRepo: activityRepo,
	}
}

type startSessionRequest struct {
	Topic       string                 `json:"topic"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	sessionID, err := h.manager.Start(r.Context(), req.Topic, req.Description, req.Metadata)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	captureOK := h.monitor.Start(sessionID)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id":    sessionID,
		"topic":         req.Topic,
		"state":         h.manager.State(),
		"input_capture": captureOK,
		"message":       "Session started",
	})
}

// TogglePause flips between Active and Paused, whichever the session is
// currently in.
func (h *SessionHandler) TogglePause(w http.ResponseWriter, r *http.Request) {
	switch h.manager.State() {
	case models.StateActive:
		stats, err := h.manager.Pause(r.Context(), "manual_pause")
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		h.monitor.Pause()

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state":   models.StatePaused,
			"stats":   stats,
			"message": "Session paused",
		})

	case models.StatePaused:
		stats, err := h.manager.Resume(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		h.monitor.Resume()

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state":   models.StateActive,
			"stats":   stats,
			"message": "Session resumed",
		})

	default:
		handleServiceError(w, r, &session.InvalidStateError{Op: "pause", State: h.manager.State()})
	}
}

type stopSessionRequest struct {
	Success *bool  `json:"success"`
	Notes   string `json:"notes"`
}

func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopSessionRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	summary, err := h.manager.Stop(r.Context(), success, req.Notes)
	h.monitor.Stop()

	if err != nil {
		var persistErr *session.PersistenceError
		if errors.As(err, &persistErr) {
			// The in-memory summary is still correct; surface it with a
			// warning instead of throwing the session's results away.
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"summary": summary,
				"warning": "Session completed but could not be saved",
			})
			return
		}
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
	})
}

func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.manager.Status()

	resp := map[string]interface{}{
		"active":          status.Active,
		"state":           status.State,
		"total_seconds":   status.TotalSeconds,
		"active_seconds":  status.ActiveSeconds,
		"idle_seconds":    status.IdleSeconds,
		"productivity":    status.Productivity,
		"current_session": status.CurrentSession,
	}

	if status.Active {
		activity := h.monitor.Stats()
		resp["intensity"] = activity.Intensity
		resp["currently_active"] = activity.CurrentlyActive
		resp["is_idle"] = h.monitor.IsIdle()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := models.SessionFilter{Limit: 20, Offset: 0}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "limit must be between 1 and 100", r))
			return
		}
		filter.Limit = limit
	}

	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "offset must be non-negative", r))
			return
		}
		filter.Offset = offset
	}

	if v := r.URL.Query().Get("date_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "date_from must be RFC 3339", r))
			return
		}
		filter.DateFrom = &t
	}

	if v := r.URL.Query().Get("date_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "date_to must be RFC 3339", r))
			return
		}
		filter.DateTo = &t
	}

	sessions, total, err := h.sessionRepo.ListSessions(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list sessions", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	sess, err := h.sessionRepo.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load session", r))
		return
	}

	events, err := h.activityRepo.ListBySession(r.Context(), id, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load activity events", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":         sess,
		"activity_events": events,
	})
}

type validateRequest struct {
	Operation string `json:"operation"`
	Topic     string `json:"topic"`
}

// Validate runs the non-mutating preflight check for an operation.
func (h *SessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	result := h.manager.ValidateOperation(r.Context(), req.Operation, req.Topic)
	writeJSON(w, http.StatusOK, result)
}
