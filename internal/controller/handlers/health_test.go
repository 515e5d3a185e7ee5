package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProbes(t *testing.T) {
	tests := []struct {
		name           string
		endpoint       string
		pingErr        error
		expectedStatus int
		expectedBody   string
	}{
		{"Healthz Always OK", "/healthz", errors.New("db down"), http.StatusOK, "ok"},
		{"Readyz Success", "/readyz", nil, http.StatusOK, "ready"},
		{"Readyz Database Fail", "/readyz", errors.New("db down"), http.StatusServiceUnavailable, "Database unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.store.pingErr = tt.pingErr

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.endpoint, nil)
			if tt.endpoint == "/healthz" {
				env.h.Healthz(rr, req)
			} else {
				env.h.Readyz(rr, req)
			}

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("got body %q, want substring %q", rr.Body.String(), tt.expectedBody)
			}
		})
	}
}
