package handlers

import (
	"net/http"
	"strings"

	"pipeplane/internal/engine"
	"pipeplane/internal/store"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
)

// CreateRun handles POST /api/runs.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req api.CreateRunRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	versionID, err := uuid.Parse(req.PipelineVersionID)
	if err != nil {
		h.httpError(w, "Invalid pipeline_version_id", http.StatusBadRequest)
		return
	}

	run, err := h.runs.Create(r.Context(), engine.CreateRequest{
		TenantID:          tenantID,
		PipelineVersionID: versionID,
		TriggerType:       strings.TrimSpace(req.TriggerType),
		Parameters:        req.Parameters,
		Actor:             actor(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toRunResponse(*run))
}

// ListRuns handles GET /api/runs with optional status, pipeline_version_id,
// root_run_id and retry_of_run_id filters.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	filter, err := runFilter(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	filter.TenantID = tenantID

	res, err := h.runs.ListRuns(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, listResponse(res, toRunResponse))
}

func runFilter(r *http.Request) (store.RunFilter, error) {
	var f store.RunFilter
	var err error

	if f.Page, err = parsePage(r); err != nil {
		return f, err
	}
	if f.PipelineVersionID, err = queryUUID(r, "pipeline_version_id"); err != nil {
		return f, err
	}
	if f.RootRunID, err = queryUUID(r, "root_run_id"); err != nil {
		return f, err
	}
	if f.RetryOfRunID, err = queryUUID(r, "retry_of_run_id"); err != nil {
		return f, err
	}

	// status may repeat or be comma separated.
	for _, v := range r.URL.Query()["status"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, store.RunStatus(s))
			}
		}
	}
	return f, nil
}

// GetRun handles GET /api/runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	tenantID, runID, ok := h.runTarget(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetRun(r.Context(), tenantID, runID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toRunResponse(*run))
}

// RetryRun handles POST /api/runs/{id}/retry.
func (h *Handlers) RetryRun(w http.ResponseWriter, r *http.Request) {
	tenantID, runID, ok := h.runTarget(w, r)
	if !ok {
		return
	}

	run, err := h.runs.Retry(r.Context(), tenantID, runID, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toRunResponse(*run))
}

// GetRunLineage handles GET /api/runs/{id}/lineage.
func (h *Handlers) GetRunLineage(w http.ResponseWriter, r *http.Request) {
	tenantID, runID, ok := h.runTarget(w, r)
	if !ok {
		return
	}

	lineage, err := h.runs.Lineage(r.Context(), tenantID, runID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toLineageResponse(lineage))
}

// GetRunEvents handles GET /api/runs/{id}/events.
func (h *Handlers) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, runID, ok := h.runTarget(w, r)
	if !ok {
		return
	}

	events, err := h.runs.Events(r.Context(), tenantID, runID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := api.RunEventsResponse{RunID: runID.String(), Events: make([]api.RunEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, toEventResponse(e))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// DeleteRun handles DELETE /api/runs/{id}. Only terminal runs can be deleted.
func (h *Handlers) DeleteRun(w http.ResponseWriter, r *http.Request) {
	tenantID, runID, ok := h.runTarget(w, r)
	if !ok {
		return
	}

	if err := h.runs.DeleteRun(r.Context(), tenantID, runID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) runTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	runID, err := pathID(r)
	if err != nil {
		h.respondError(w, r, err)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, runID, true
}
