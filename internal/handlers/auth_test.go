package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthHandler_MeWithoutIdentity(t *testing.T) {
	h := NewAuthHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("X-Request-ID", "req-me-1")
	rec := httptest.NewRecorder()

	h.Me(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", rec.Code)
	}
	errResp := decodeError(t, rec)
	if errResp.Error.Code != "UNAUTHORIZED" {
		t.Errorf("Expected code %q, got %q", "UNAUTHORIZED", errResp.Error.Code)
	}
	if errResp.Error.RequestID != "req-me-1" {
		t.Errorf("Expected request ID %q, got %q", "req-me-1", errResp.Error.RequestID)
	}
}
