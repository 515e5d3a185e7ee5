package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"pipeplane/internal/store"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
)

// CreateFacility handles POST /api/facilities.
func (h *Handlers) CreateFacility(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req api.CreateFacilityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.FacilityType) == "" {
		h.httpError(w, "name and facility_type are required", http.StatusBadRequest)
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		h.httpError(w, "Invalid timezone", http.StatusBadRequest)
		return
	}

	f := &store.Facility{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Name:         strings.TrimSpace(req.Name),
		FacilityType: req.FacilityType,
		Timezone:     tz,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.CreateFacility(r.Context(), f); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toFacilityResponse(*f))
}

// ListFacilities handles GET /api/facilities.
func (h *Handlers) ListFacilities(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.store.ListFacilities(r.Context(), store.FacilityFilter{TenantID: tenantID, Page: page})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, listResponse(res, toFacilityResponse))
}

// CreateConnectorInstance handles POST /api/connector-instances.
// A referenced facility must belong to the caller's tenant.
func (h *Handlers) CreateConnectorInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req api.CreateConnectorInstanceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ConnectorType) == "" {
		h.httpError(w, "connector_type is required", http.StatusBadRequest)
		return
	}

	c := &store.ConnectorInstance{
		ID:            uuid.New(),
		TenantID:      tenantID,
		ConnectorType: req.ConnectorType,
		Status:        store.ConnectorStatusActive,
		Config:        req.Config,
		SecretsRef:    req.SecretsRef,
		CreatedAt:     time.Now().UTC(),
	}
	if len(c.Config) == 0 || string(c.Config) == "null" {
		c.Config = json.RawMessage(`{}`)
	}

	if req.FacilityID != nil {
		facilityID, err := uuid.Parse(*req.FacilityID)
		if err != nil {
			h.httpError(w, "Invalid facility_id", http.StatusBadRequest)
			return
		}
		if _, err := h.store.GetFacility(ctx, tenantID, facilityID); err != nil {
			h.respondError(w, r, err)
			return
		}
		c.FacilityID = &facilityID
	}

	if err := h.store.CreateConnectorInstance(ctx, c); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toConnectorResponse(*c))
}

// ListConnectorInstances handles GET /api/connector-instances.
func (h *Handlers) ListConnectorInstances(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.store.ListConnectorInstances(r.Context(), store.ConnectorFilter{
		TenantID:      tenantID,
		ConnectorType: r.URL.Query().Get("connector_type"),
		Page:          page,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, listResponse(res, toConnectorResponse))
}
