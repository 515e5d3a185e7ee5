package handlers

import (
	"net/http"
	"strings"
	"testing"

	"pipeplane/internal/store"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
)

func TestCreateFacility(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantTZ     string
	}{
		{"default timezone", `{"name":"plant-1","facility_type":"factory"}`, http.StatusCreated, "UTC"},
		{"explicit timezone", `{"name":"plant-2","facility_type":"factory","timezone":"Europe/Berlin"}`, http.StatusCreated, "Europe/Berlin"},
		{"unknown timezone", `{"name":"plant-3","facility_type":"factory","timezone":"Mars/Olympus"}`, http.StatusBadRequest, ""},
		{"missing type", `{"name":"plant-4"}`, http.StatusBadRequest, ""},
		{"invalid json", `{`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			rr := env.serve(env.h.CreateFacility, http.MethodPost, "/api/facilities", "/api/facilities", tt.body)

			if rr.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				return
			}
			resp := decode[api.FacilityResponse](t, rr)
			if resp.Timezone != tt.wantTZ {
				t.Errorf("got timezone %q, want %q", resp.Timezone, tt.wantTZ)
			}
			if env.store.capturedFacility.TenantID != env.tenant.ID {
				t.Error("facility not scoped to the caller's tenant")
			}
		})
	}
}

func TestListFacilities(t *testing.T) {
	env := newTestEnv()
	rr := env.serve(env.h.ListFacilities, http.MethodGet, "/api/facilities", "/api/facilities?limit=5", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decode[api.ListResponse[api.FacilityResponse]](t, rr)
	if resp.Limit != 5 || resp.Total != 1 || len(resp.Items) != 1 {
		t.Errorf("unexpected page %+v", resp)
	}
}

func TestCreateConnectorInstance(t *testing.T) {
	facilityID := uuid.New()

	tests := []struct {
		name        string
		body        string
		facilityErr error
		wantStatus  int
	}{
		{"without facility", `{"connector_type":"opcua","config":{"endpoint":"opc.tcp://plc:4840"}}`, nil, http.StatusCreated},
		{"with facility", `{"facility_id":"` + facilityID.String() + `","connector_type":"mqtt"}`, nil, http.StatusCreated},
		{"foreign facility", `{"facility_id":"` + facilityID.String() + `","connector_type":"mqtt"}`, store.ErrNotFound, http.StatusNotFound},
		{"invalid facility id", `{"facility_id":"nope","connector_type":"mqtt"}`, nil, http.StatusBadRequest},
		{"missing type", `{}`, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.store.getFacilityErr = tt.facilityErr

			rr := env.serve(env.h.CreateConnectorInstance, http.MethodPost, "/api/connector-instances", "/api/connector-instances", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				if env.store.capturedConnector != nil {
					t.Error("connector persisted on a rejected request")
				}
				return
			}

			resp := decode[api.ConnectorInstanceResponse](t, rr)
			if resp.Status != store.ConnectorStatusActive {
				t.Errorf("got status %q, want %q", resp.Status, store.ConnectorStatusActive)
			}
			if len(resp.Config) == 0 {
				t.Error("config should default to an object")
			}
		})
	}
}

func TestListConnectorInstances_FiltersByType(t *testing.T) {
	env := newTestEnv()
	rr := env.serve(env.h.ListConnectorInstances, http.MethodGet, "/api/connector-instances", "/api/connector-instances?connector_type=mqtt", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if env.store.capturedConnFilter.ConnectorType != "mqtt" || env.store.capturedConnFilter.TenantID != env.tenant.ID {
		t.Errorf("unexpected filter %+v", env.store.capturedConnFilter)
	}
	if !strings.Contains(rr.Body.String(), `"items":[]`) {
		t.Errorf("empty page should encode items as []: %s", rr.Body.String())
	}
}
