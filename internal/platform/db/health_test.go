package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"unhealthy", errors.New("connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := HealthHandler(stubPinger{err: tt.err})(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["status"] != tt.want {
				t.Errorf("expected status %s, got %v", tt.want, body["status"])
			}
			if _, ok := body["pool"]; ok {
				t.Error("pool stats only reported for pgx pools")
			}
		})
	}
}
