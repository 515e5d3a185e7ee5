package handlers

import (
	"net/http"
	"strings"
	"time"

	"pipeplane/internal/store"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
)

// CreatePipeline handles POST /api/pipelines.
func (h *Handlers) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req api.CreatePipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.httpError(w, "name is required", http.StatusBadRequest)
		return
	}

	p := &store.Pipeline{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreatePipeline(r.Context(), p); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toPipelineResponse(*p))
}

// ListPipelines handles GET /api/pipelines, newest first.
func (h *Handlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.store.ListPipelines(r.Context(), store.PipelineFilter{TenantID: tenantID, Page: page})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, listResponse(res, toPipelineResponse))
}

// CreatePipelineVersion handles POST /api/pipeline-versions. New versions start as DRAFT.
func (h *Handlers) CreatePipelineVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req api.CreatePipelineVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	pipelineID, err := uuid.Parse(req.PipelineID)
	if err != nil {
		h.httpError(w, "Invalid pipeline_id", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Version) == "" {
		h.httpError(w, "version is required", http.StatusBadRequest)
		return
	}
	if len(req.DAGSpec) == 0 || string(req.DAGSpec) == "null" {
		h.httpError(w, "dag_spec is required", http.StatusBadRequest)
		return
	}

	pipeline, err := h.store.GetPipeline(ctx, tenantID, pipelineID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	v := &store.PipelineVersion{
		ID:           uuid.New(),
		TenantID:     tenantID,
		PipelineID:   pipeline.ID,
		PipelineName: pipeline.Name,
		Version:      strings.TrimSpace(req.Version),
		Status:       store.VersionStatusDraft,
		DAGSpec:      req.DAGSpec,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.CreatePipelineVersion(ctx, v); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toVersionResponse(*v))
}

// ListPipelineVersions handles GET /api/pipeline-versions?pipeline_id=&status=.
func (h *Handlers) ListPipelineVersions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	pipelineID, err := queryUUID(r, "pipeline_id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := store.VersionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		h.httpError(w, "Invalid status", http.StatusBadRequest)
		return
	}

	res, err := h.store.ListPipelineVersions(r.Context(), store.VersionFilter{
		TenantID:   tenantID,
		PipelineID: pipelineID,
		Status:     status,
		Page:       page,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, listResponse(res, toVersionResponse))
}

// GetPipelineVersion handles GET /api/pipeline-versions/{id}.
func (h *Handlers) GetPipelineVersion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	v, err := h.store.GetPipelineVersion(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if v.TenantID != tenantID {
		h.respondError(w, r, store.ErrNotFound)
		return
	}
	h.respondJson(w, http.StatusOK, toVersionResponse(*v))
}

// SetPipelineVersionStatus handles POST /api/pipeline-versions/{id}/status.
func (h *Handlers) SetPipelineVersionStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req api.SetVersionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	status := store.VersionStatus(strings.TrimSpace(req.Status))
	if !status.Valid() {
		h.httpError(w, "status must be DRAFT, APPROVED or DEPRECATED", http.StatusBadRequest)
		return
	}

	v, err := h.store.SetPipelineVersionStatus(r.Context(), tenantID, id, status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.log.InfoContext(r.Context(), "pipeline version status changed",
		"tenant_id", tenantID, "pipeline_version_id", id, "status", status)
	h.respondJson(w, http.StatusOK, toVersionResponse(*v))
}
