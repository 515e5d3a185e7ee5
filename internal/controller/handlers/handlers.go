// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pipeplane/internal/controller/middleware"
	"pipeplane/internal/dispatcher"
	"pipeplane/internal/engine"
	"pipeplane/internal/logger"
	"pipeplane/internal/store"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
)

// Store combines the catalog and tenant interfaces the handlers read and write directly.
type Store interface {
	Ping(ctx context.Context) error
	store.TenantStore
	store.CatalogStore
	store.VersionStore
}

// RunService is the run lifecycle surface exposed to tenants. Implemented by *engine.Engine.
type RunService interface {
	Create(ctx context.Context, req engine.CreateRequest) (*store.Run, error)
	GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*store.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) (*store.ListResult[store.Run], error)
	Retry(ctx context.Context, tenantID, runID uuid.UUID, actor string) (*store.Run, error)
	Lineage(ctx context.Context, tenantID, runID uuid.UUID) (*engine.Lineage, error)
	Events(ctx context.Context, tenantID, runID uuid.UUID) ([]store.RunEvent, error)
	DeleteRun(ctx context.Context, tenantID, runID uuid.UUID) error
}

// WorkerService is the claim surface exposed to workers. Implemented by *dispatcher.Dispatcher.
type WorkerService interface {
	Claim(ctx context.Context, tenantID uuid.UUID, workerID string) (*store.Run, bool, error)
	Report(ctx context.Context, runID uuid.UUID, workerID string, status store.RunStatus, errMsg string) (*store.Run, error)
	Heartbeat(ctx context.Context, runID uuid.UUID, workerID string) (time.Time, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store   Store
	runs    RunService
	workers WorkerService
	log     *slog.Logger
}

// New creates a new Handlers instance.
func New(s Store, runs RunService, workers WorkerService, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{store: s, runs: runs, workers: workers, log: log}
}

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// respondError maps domain errors to HTTP statuses. Unknown errors are logged and hidden.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrPreconditionFailed):
		h.httpError(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, engine.ErrInvalidTransition):
		h.httpError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrDuplicate):
		h.httpError(w, "Already exists", http.StatusConflict)
	case errors.Is(err, errBadRequest),
		errors.Is(err, engine.ErrInvalidArgument),
		errors.Is(err, dispatcher.ErrMissingWorkerID):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	default:
		logger.FromContext(r.Context(), h.log).ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("Invalid request body")
	}
	return nil
}

// tenantID returns the authenticated tenant. The auth middleware guarantees it on /api routes.
func (h *Handlers) tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, badRequest("Invalid id")
	}
	return id, nil
}

func queryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, badRequest("Invalid %s", key)
	}
	return &id, nil
}

// parsePage reads limit and offset query parameters.
func parsePage(r *http.Request) (store.Page, error) {
	var p store.Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, badRequest("Invalid limit")
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, badRequest("Invalid offset")
		}
		p.Offset = n
	}
	return p.Normalize(), nil
}

func listResponse[S any, T any](res *store.ListResult[S], convert func(S) T) api.ListResponse[T] {
	items := make([]T, 0, len(res.Items))
	for _, it := range res.Items {
		items = append(items, convert(it))
	}
	return api.ListResponse[T]{
		Items:  items,
		Limit:  res.Page.Limit,
		Offset: res.Page.Offset,
		Total:  res.Total,
	}
}

// actor identifies the caller in run events.
func actor(r *http.Request) string {
	if t, ok := middleware.TenantFromContext(r.Context()); ok {
		return "tenant:" + t.ID.String()
	}
	return "api"
}
