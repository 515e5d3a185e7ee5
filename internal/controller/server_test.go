package controller

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pipeplane/internal/auth"
	"pipeplane/internal/controller/handlers"
	"pipeplane/internal/store"

	"github.com/google/uuid"
)

const testSecret = "internal-secret"

type fakeStore struct {
	handlers.Store
}

func (fakeStore) Ping(ctx context.Context) error { return nil }

type fakeRuns struct {
	handlers.RunService
	listed uuid.UUID
}

func (f *fakeRuns) ListRuns(ctx context.Context, filter store.RunFilter) (*store.ListResult[store.Run], error) {
	f.listed = filter.TenantID
	return &store.ListResult[store.Run]{Page: filter.Page.Normalize()}, nil
}

type fakeWorkers struct {
	handlers.WorkerService
}

func (fakeWorkers) Claim(ctx context.Context, tenantID uuid.UUID, workerID string) (*store.Run, bool, error) {
	return nil, false, nil
}

type fakeResolver struct {
	key    string
	tenant *store.Tenant
}

func (f fakeResolver) GetTenantByAPIKeyHash(ctx context.Context, hash string) (*store.Tenant, error) {
	if hash == auth.HashKey(f.key) {
		return f.tenant, nil
	}
	return nil, store.ErrNotFound
}

func newTestHandler(t *testing.T) (http.Handler, *fakeRuns, *store.Tenant) {
	t.Helper()
	tenant := &store.Tenant{ID: uuid.New(), Name: "Acme"}
	runs := &fakeRuns{}
	h := handlers.New(fakeStore{}, runs, fakeWorkers{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "pipeplane_up 1\n") })

	handler := NewHandler(Config{InternalSecret: testSecret, Metrics: metrics}, h, fakeResolver{key: "pp_valid", tenant: tenant})
	return handler, runs, tenant
}

func TestRoutes(t *testing.T) {
	handler, runs, tenant := newTestHandler(t)

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		body       string
		wantStatus int
	}{
		{"healthz is public", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"readyz is public", http.MethodGet, "/readyz", "", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"api needs a key", http.MethodGet, "/api/runs", "", "", http.StatusUnauthorized},
		{"api rejects unknown key", http.MethodGet, "/api/runs", "pp_other", "", http.StatusUnauthorized},
		{"api accepts tenant key", http.MethodGet, "/api/runs", "pp_valid", "", http.StatusOK},
		{"api rejects internal secret", http.MethodGet, "/api/runs", testSecret, "", http.StatusUnauthorized},
		{"tenant admin needs secret", http.MethodPost, "/api/tenants", "pp_valid", `{"name":"x"}`, http.StatusUnauthorized},
		{"worker api needs secret", http.MethodPost, "/internal/runs/claim", "pp_valid", "{}", http.StatusUnauthorized},
		{"worker claim with no work", http.MethodPost, "/internal/runs/claim", testSecret, `{"tenant_id":"` + uuid.NewString() + `","worker_id":"w"}`, http.StatusNoContent},
		{"wrong method", http.MethodPatch, "/api/runs", "pp_valid", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("response has no X-Request-ID")
			}
		})
	}

	if runs.listed != tenant.ID {
		t.Errorf("runs listed for tenant %v, want %v", runs.listed, tenant.ID)
	}
}
