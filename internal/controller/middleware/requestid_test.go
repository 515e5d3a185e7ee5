package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"pipeplane/internal/logger"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{"generated", ""},
		{"propagated", "req-abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logger.RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			echoed := rr.Header().Get(RequestIDHeader)
			if seen == "" || echoed != seen {
				t.Errorf("context id %q, response id %q", seen, echoed)
			}
			if tt.incoming != "" && seen != tt.incoming {
				t.Errorf("got %q, want %q", seen, tt.incoming)
			}
		})
	}
}
