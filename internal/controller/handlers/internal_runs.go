package handlers

import (
	"net/http"
	"strings"

	"pipeplane/internal/store"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
)

// ClaimRun handles POST /internal/runs/claim (workers only).
// It responds 204 No Content when the tenant has no queued run.
func (h *Handlers) ClaimRun(w http.ResponseWriter, r *http.Request) {
	var req api.ClaimRunRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		h.httpError(w, "Invalid tenant_id", http.StatusBadRequest)
		return
	}

	run, ok, err := h.workers.Claim(r.Context(), tenantID, req.WorkerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondJson(w, http.StatusOK, toRunResponse(*run))
}

// HeartbeatRun handles PUT /internal/runs/{id}/heartbeat.
// It responds 409 when the run is no longer RUNNING under the caller's claim.
func (h *Handlers) HeartbeatRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req api.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	until, err := h.workers.Heartbeat(r.Context(), runID, req.WorkerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.HeartbeatResponse{LeaseExpiresAt: until})
}

// CompleteRun handles POST /internal/runs/{id}/complete.
func (h *Handlers) CompleteRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req api.CompleteRunRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	status := store.RunStatus(strings.TrimSpace(req.Status))
	run, err := h.workers.Report(r.Context(), runID, req.WorkerID, status, req.Error)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toRunResponse(*run))
}
