package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequireInternalAuth(t *testing.T) {
	const secret = "worker-secret"

	tests := []struct {
		name       string
		secret     string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing header", secret, "", http.StatusUnauthorized, "Missing authorization header"},
		{"basic scheme", secret, "Basic " + secret, http.StatusUnauthorized, "Invalid authorization header"},
		{"bearer without token", secret, "Bearer", http.StatusUnauthorized, "Invalid authorization header"},
		{"double space", secret, "Bearer  " + secret, http.StatusUnauthorized, "Invalid authorization header"},
		{"wrong token", secret, "Bearer other", http.StatusUnauthorized, "Invalid authorization token"},
		{"unset secret", "", "Bearer anything", http.StatusUnauthorized, "Invalid authorization token"},
		{"valid", secret, "Bearer " + secret, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RequireInternalAuth(tt.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/internal/runs/claim", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.wantBody != "" && !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("got body %q, want substring %q", rr.Body.String(), tt.wantBody)
			}
		})
	}
}
