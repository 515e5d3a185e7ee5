package middleware

import (
	"crypto/subtle"
	"net/http"
)

// RequireInternalAuth guards worker and admin routes with the shared system secret.
// An empty secret rejects every request.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				unauthorized(w, "Missing authorization header")
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "Invalid authorization header")
				return
			}

			if systemSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(systemSecret)) != 1 {
				unauthorized(w, "Invalid authorization token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
