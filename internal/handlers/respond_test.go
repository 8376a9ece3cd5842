package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"repodash/internal/models"
	"repodash/internal/services"
)

// ─── JSON Response Tests ───

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]string{"message": "Success"})

	if rr.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got %q", rr.Header().Get("Content-Type"))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["message"] != "Success" {
		t.Errorf("Expected message 'Success', got %v", result["message"])
	}
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"id": "bad"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", &services.NotFoundError{Message: "Conversation not found"}, http.StatusNotFound, "NOT_FOUND"},
		{"rate limit", &services.RateLimitError{Message: "slow down"}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/conversations/", nil)
			req.Header.Set("X-Request-ID", "req-42")
			rr := httptest.NewRecorder()

			handleServiceError(rr, req, tc.err)

			if rr.Code != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, rr.Code)
			}
			var body models.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Errorf("Expected code %s, got %s", tc.code, body.Error.Code)
			}
			if body.Error.RequestID != "req-42" {
				t.Errorf("Expected request id 'req-42', got %q", body.Error.RequestID)
			}
		})
	}
}
