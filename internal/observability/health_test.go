package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if status.Status != "healthy" || status.Service != "speech-coach" {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := DependencyCheck{Name: "config", Check: func(context.Context) (bool, error) { return true, nil }}
	bad := DependencyCheck{Name: "gemini", Check: func(context.Context) (bool, error) {
		return false, errors.New("circuit breaker is open")
	}}

	tests := []struct {
		name     string
		checks   []DependencyCheck
		code     int
		expected string
	}{
		{"all healthy", []DependencyCheck{ok}, http.StatusOK, "ready"},
		{"one unhealthy", []DependencyCheck{ok, bad}, http.StatusServiceUnavailable, "not_ready"},
		{"no checks", nil, http.StatusOK, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks...)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}
			var status HealthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if status.Status != tt.expected {
				t.Errorf("Expected status %s, got %s", tt.expected, status.Status)
			}
			if dep, found := status.Dependencies["gemini"]; found && dep.Message != "circuit breaker is open" {
				t.Errorf("Expected failure message, got %q", dep.Message)
			}
		})
	}
}
