// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"pipeplane/internal/controller/handlers"
	"pipeplane/internal/controller/middleware"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// Config holds the server settings.
type Config struct {
	Addr           string
	InternalSecret string
	Metrics        http.Handler
}

// New creates a new controller server.
//
// Routes:
//   - /api/*       tenant API, Bearer API key, per-tenant rate limit
//   - /api/tenants admin, internal secret
//   - /internal/*  worker API, internal secret
//   - /healthz, /readyz, /metrics
func New(cfg Config, h *handlers.Handlers, tenants middleware.TenantResolver) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(cfg, h, tenants),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// NewHandler builds the routed, middleware-wrapped handler tree.
func NewHandler(cfg Config, h *handlers.Handlers, tenants middleware.TenantResolver) http.Handler {
	authMW := middleware.AuthMiddleware(tenants)
	rateMW := middleware.NewRateLimiter().Middleware()
	internalMW := middleware.RequireInternalAuth(cfg.InternalSecret)

	public := func(fn http.HandlerFunc) http.Handler {
		return authMW(rateMW(fn))
	}
	internal := func(fn http.HandlerFunc) http.Handler {
		return internalMW(fn)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Admin
	mux.Handle("POST /api/tenants", internal(h.CreateTenant))

	// Tenant API
	mux.Handle("POST /api/facilities", public(h.CreateFacility))
	mux.Handle("GET /api/facilities", public(h.ListFacilities))
	mux.Handle("POST /api/connector-instances", public(h.CreateConnectorInstance))
	mux.Handle("GET /api/connector-instances", public(h.ListConnectorInstances))

	mux.Handle("POST /api/pipelines", public(h.CreatePipeline))
	mux.Handle("GET /api/pipelines", public(h.ListPipelines))
	mux.Handle("POST /api/pipeline-versions", public(h.CreatePipelineVersion))
	mux.Handle("GET /api/pipeline-versions", public(h.ListPipelineVersions))
	mux.Handle("GET /api/pipeline-versions/{id}", public(h.GetPipelineVersion))
	mux.Handle("POST /api/pipeline-versions/{id}/status", public(h.SetPipelineVersionStatus))

	mux.Handle("POST /api/runs", public(h.CreateRun))
	mux.Handle("GET /api/runs", public(h.ListRuns))
	mux.Handle("GET /api/runs/{id}", public(h.GetRun))
	mux.Handle("DELETE /api/runs/{id}", public(h.DeleteRun))
	mux.Handle("POST /api/runs/{id}/retry", public(h.RetryRun))
	mux.Handle("GET /api/runs/{id}/lineage", public(h.GetRunLineage))
	mux.Handle("GET /api/runs/{id}/events", public(h.GetRunEvents))

	// Worker API
	mux.Handle("POST /internal/runs/claim", internal(h.ClaimRun))
	mux.Handle("PUT /internal/runs/{id}/heartbeat", internal(h.HeartbeatRun))
	mux.Handle("POST /internal/runs/{id}/complete", internal(h.CompleteRun))

	return middleware.RequestID(middleware.Trace(mux))
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
