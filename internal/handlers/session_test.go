package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studytrack-backend/internal/models"
	"studytrack-backend/internal/monitor"
	"studytrack-backend/internal/session"
)

type stubStore struct {
	createErr   error
	finalizeErr error
}

func (s *stubStore) CreateSession(ctx context.Context, sess *models.Session) error {
	return s.createErr
}

func (s *stubStore) FinalizeSession(ctx context.Context, sess *models.Session) error {
	return s.finalizeErr
}

func (s *stubStore) CountSessionsSince(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}

func newTestHandler(store *stubStore) (*SessionHandler, *monitor.Monitor) {
	mgr := session.NewManager(store, nil, 3*time.Second)
	mon := monitor.New(monitor.Config{}, mgr, nil, monitor.Disabled{})
	return NewSessionHandler(mgr, mon, nil, nil), mon
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(jsonBody)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "test-request")

	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp
}

func TestSessionStart_Created(t *testing.T) {
	h, mon := newTestHandler(&stubStore{})
	defer mon.Stop()

	rr := doJSON(t, h.Start, http.MethodPost, "/api/v1/sessions/start", map[string]string{
		"topic":       "Linear Algebra",
		"description": "matrices",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["session_id"] == nil || resp["session_id"] == "" {
		t.Error("Expected session_id in response")
	}
	if resp["state"] != "active" {
		t.Errorf("Expected state 'active', got %v", resp["state"])
	}
	// Disabled input capture means a degraded (timer-only) start
	if resp["input_capture"] != false {
		t.Errorf("Expected input_capture false, got %v", resp["input_capture"])
	}
}

func TestSessionStart_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		body     interface{}
		wantCode string
	}{
		{"missing topic", map[string]string{"description": "no topic"}, "VALIDATION_ERROR"},
		{"blank topic", map[string]string{"topic": "   "}, "VALIDATION_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, mon := newTestHandler(&stubStore{})
			defer mon.Stop()

			rr := doJSON(t, h.Start, http.MethodPost, "/api/v1/sessions/start", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rr.Code)
			}

			resp := decodeError(t, rr)
			if resp.Error.Code != tc.wantCode {
				t.Errorf("Expected code %q, got %q", tc.wantCode, resp.Error.Code)
			}
			if resp.Error.RequestID != "test-request" {
				t.Errorf("Expected request ID echoed, got %q", resp.Error.RequestID)
			}
		})
	}
}

func TestSessionStart_SecondStartConflicts(t *testing.T) {
	h, mon := newTestHandler(&stubStore{})
	defer mon.Stop()

	rr := doJSON(t, h.Start, http.MethodPost, "/api/v1/sessions/start", map[string]string{"topic": "One"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 on first start, got %d", rr.Code)
	}

	rr = doJSON(t, h.Start, http.MethodPost, "/api/v1/sessions/start", map[string]string{"topic": "Two"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected 409 on second start, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Error.Code != "INVALID_STATE" {
		t.Errorf("Expected code INVALID_STATE, got %q", resp.Error.Code)
	}
}

func TestSessionStart_PersistenceFailure(t *testing.T) {
	h, mon := newTestHandler(&stubStore{createErr: errors.New("connection refused")})
	defer mon.Stop()

	rr := doJSON(t, h.Start, http.MethodPost, "/api/v1/sessions/start", map[string]string{"topic": "One"})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Error.Code != "PERSISTENCE_ERROR" {
		t.Errorf("Expected code PERSISTENCE_ERROR, got %q", resp.Error.Code)
	}
}

func TestTogglePause_FlipsBetweenStates(t *testing.T) {
	h, mon := newTestHandler(&stubStore{})
	defer mon.Stop()

	doJSON(t, h.Start, http.MethodPost, "/api/v1/sessions/start", map[string]string{"topic": "One"})

	rr := doJSON(t, h.TogglePause, http.MethodPost, "/api/v1/sessions/pause", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["state"] != "paused" {
		t.Errorf("Expected state 'paused', got %v", resp["state"])
	}

	rr = doJSON(t, h.TogglePause, http.MethodPost, "/api/v1/sessions/pause", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	resp = map[string]interface{}{}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["state"] != "active" {
		t.Errorf("Expected state 'active', got %v", resp["state"])
	}
}

func TestTogglePause_NoSession(t *testing.T) {
	h, mon := newTestHandler(&stubStore{})
	defer mon.Stop()

	rr := doJSON(t, h.TogglePause, http.MethodPost, "/api/v1/sessions/pause", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Error.Code != "INVALID_STATE" {
		t.Errorf("Expected code INVALID_STATE, got %q", resp.Error.Code)
	}
}

func TestStop_ReturnsSummary(t *testing.T) {
	h, mon := newTestHandler(&stubStore{})
	defer mon.Stop()

	doJSON(t, h.Start, http.MethodPost, "/api/v1/sessions/start", map[string]string{"topic": "One"})

	rr := doJSON(t, h.Stop, http.MethodPost, "/api/v1/sessions/stop", map[string]interface{}{
		"success": false,
		"notes":   "interrupted",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	var resp struct {
		Summary models.SessionSummary `json:"summary"`
		Warning string                `json:"warning"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Summary.Topic != "One" {
		t.Errorf("Expected topic 'One', got %q", resp.Summary.Topic)
	}
	if resp.Summary.Success {
		t.Error("Expected success false")
	}
	if resp.Warning != "" {
		t.Errorf("Expected no warning, got %q", resp.Warning)
	}
}

func TestStop_PersistenceFailureStillReturnsSummary(t *testing.T) {
	h, mon := newTestHandler(&stubStore{finalizeErr: errors.New("connection refused")})
	defer mon.Stop()

	doJSON(t, h.Start, http.MethodPost, "/api/v1/sessions/start", map[string]string{"topic": "One"})

	rr := doJSON(t, h.Stop, http.MethodPost, "/api/v1/sessions/stop", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 despite persistence failure, got %d", rr.Code)
	}

	var resp struct {
		Summary models.SessionSummary `json:"summary"`
		Warning string                `json:"warning"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Warning == "" {
		t.Error("Expected a warning about the failed save")
	}
	if resp.Summary.Topic != "One" {
		t.Errorf("Expected the in-memory summary, got %+v", resp.Summary)
	}
}

func TestStop_NoSession(t *testing.T) {
	h, mon := newTestHandler(&stubStore{})
	defer mon.Stop()

	rr := doJSON(t, h.Stop, http.MethodPost, "/api/v1/sessions/stop", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", rr.Code)
	}
}

func TestStatus_ReflectsLifecycle(t *testing.T) {
	h, mon := newTestHandler(&stubStore{})
	defer mon.Stop()

	rr := doJSON(t, h.Status, http.MethodGet, "/api/v1/sessions/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["active"] != false || resp["state"] != "idle" {
		t.Errorf("Expected inactive idle status, got %v", resp)
	}

	doJSON(t, h.Start, http.MethodPost, "/api/v1/sessions/start", map[string]string{"topic": "One"})

	rr = doJSON(t, h.Status, http.MethodGet, "/api/v1/sessions/status", nil)
	resp = map[string]interface{}{}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["active"] != true || resp["state"] != "active" {
		t.Errorf("Expected active status, got %v", resp)
	}
	if resp["current_session"] == nil {
		t.Error("Expected current_session in active status")
	}
	if _, ok := resp["intensity"]; !ok {
		t.Error("Expected intensity in active status")
	}
}

func TestValidate_PreflightCheck(t *testing.T) {
	h, mon := newTestHandler(&stubStore{})
	defer mon.Stop()

	rr := doJSON(t, h.Validate, http.MethodPost, "/api/v1/sessions/validate", map[string]string{
		"operation": "start",
		"topic":     "Math",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}

	var res session.ValidationResult
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !res.Valid {
		t.Errorf("Expected valid start, got errors %v", res.Errors)
	}

	rr = doJSON(t, h.Validate, http.MethodPost, "/api/v1/sessions/validate", map[string]string{
		"operation": "pause",
	})
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Valid {
		t.Error("Expected pause to be invalid with no session")
	}
}
