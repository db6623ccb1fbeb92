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
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.Status != "healthy" || status.Service != "speech-bridge" {
		t.Errorf("Unexpected health status %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthCheckFunc
		wantCode   int
		wantStatus string
	}{
		{
			name: "all healthy",
			checks: map[string]HealthCheckFunc{
				"backend": func(ctx context.Context) (bool, error) { return true, nil },
			},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name: "backend down",
			checks: map[string]HealthCheckFunc{
				"backend": func(ctx context.Context) (bool, error) { return false, errors.New("connection refused") },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
		{
			name:       "no checks",
			checks:     nil,
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}

			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, status.Status)
			}
		})
	}
}

func TestCheckDependencies_Message(t *testing.T) {
	deps, ok := CheckDependencies(context.Background(), map[string]HealthCheckFunc{
		"backend": func(ctx context.Context) (bool, error) { return false, errors.New("boom") },
	})
	if ok {
		t.Error("Expected unhealthy result")
	}
	if deps["backend"].Message != "boom" {
		t.Errorf("Expected message 'boom', got '%s'", deps["backend"].Message)
	}
}
