// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"pipeplane/internal/auth"
	"pipeplane/internal/store"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
)

// tenantKey is the context key for the authenticated tenant.
type tenantKey struct{}

// TenantResolver looks up the tenant owning an API key.
type TenantResolver interface {
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (*store.Tenant, error)
}

// AuthMiddleware resolves the Bearer API key to a tenant and stores it in the request context.
// Every public operation is scoped by that tenant.
func AuthMiddleware(s TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "Missing or invalid authorization header")
				return
			}

			tenant, err := s.GetTenantByAPIKeyHash(r.Context(), auth.HashKey(token))
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					unauthorized(w, "Invalid API key")
					return
				}
				writeError(w, "Authentication unavailable", http.StatusInternalServerError)
				return
			}
			if tenant == nil {
				unauthorized(w, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithTenant(r.Context(), tenant)))
		})
	}
}

// NewContextWithTenant returns a copy of ctx carrying the tenant.
func NewContextWithTenant(ctx context.Context, tenant *store.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the authenticated tenant.
func TenantFromContext(ctx context.Context) (*store.Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(*store.Tenant)
	return t, ok && t != nil
}

// TenantIDFromContext returns the authenticated tenant's ID.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	t, ok := TenantFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return t.ID, true
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, msg, http.StatusUnauthorized)
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: msg,
		Code:  strconv.Itoa(code),
	})
}
