package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
)

func TestErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()

	if err := ErrorResponse(rec, 404, "not_found", "Task not found"); err != nil {
		t.Fatalf("ErrorResponse returned error: %v", err)
	}

	if rec.Code != 404 {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "not_found" {
		t.Errorf("expected error code 'not_found', got %q", body["error"])
	}
	if body["message"] != "Task not found" {
		t.Errorf("expected message 'Task not found', got %q", body["message"])
	}
}

func TestWriteJSON_DefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()

	if err := WriteJSON(rec, 200, map[string]int{"count": 3}); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}
	if rec.Code != 200 {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperrors.ErrNotFound, 404},
		{"conflict", apperrors.ErrConflict, 409},
		{"not cancellable", apperrors.ErrTaskNotCancellable, 409},
		{"invalid request", apperrors.ErrInvalidRequest, 400},
		{"invalid config", apperrors.ErrInvalidConfig, 400},
		{"unknown", json.Unmarshal([]byte("{"), nil), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if err := serviceError(rec, tt.err); err != nil {
				t.Fatalf("serviceError returned error: %v", err)
			}
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
