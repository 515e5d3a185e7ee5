package handlers

import (
	"net/http"
	"testing"

	"pipeplane/internal/engine"
	"pipeplane/internal/store"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
)

func TestCreateRun(t *testing.T) {
	versionID := uuid.New()
	body := `{"pipeline_version_id":"` + versionID.String() + `","parameters":{"day":"2024-01-01"}}`

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"created", body, nil, http.StatusCreated},
		{"version not approved", body, engine.ErrPreconditionFailed, http.StatusPreconditionFailed},
		{"version missing", body, engine.ErrNotFound, http.StatusNotFound},
		{"bad version id", `{"pipeline_version_id":"x"}`, nil, http.StatusBadRequest},
		{"bad json", `[`, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.runs.run = sampleRun(env.tenant.ID, store.RunStatusQueued)
			env.runs.err = tt.err

			rr := env.serve(env.h.CreateRun, http.MethodPost, "/api/runs", "/api/runs", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus == http.StatusBadRequest {
				return
			}

			req := env.runs.capturedCreate
			if req.TenantID != env.tenant.ID || req.PipelineVersionID != versionID {
				t.Errorf("unexpected create request %+v", req)
			}
			if string(req.Parameters) != `{"day":"2024-01-01"}` {
				t.Errorf("parameters not forwarded: %s", req.Parameters)
			}
			if tt.wantStatus == http.StatusCreated {
				resp := decode[api.RunResponse](t, rr)
				if resp.Status != "QUEUED" || resp.RetryOfRunID != nil || resp.RootRunID != nil {
					t.Errorf("unexpected run %+v", resp)
				}
			}
		})
	}
}

func TestListRuns_Filters(t *testing.T) {
	root := uuid.New()
	version := uuid.New()

	env := newTestEnv()
	target := "/api/runs?status=FAILED,QUEUED&status=RUNNING&root_run_id=" + root.String() + "&pipeline_version_id=" + version.String() + "&limit=10"
	rr := env.serve(env.h.ListRuns, http.MethodGet, "/api/runs", target, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	f := env.runs.capturedFilter
	if f.TenantID != env.tenant.ID {
		t.Error("filter not scoped to the caller's tenant")
	}
	if len(f.Statuses) != 3 || f.Statuses[0] != store.RunStatusFailed || f.Statuses[2] != store.RunStatusRunning {
		t.Errorf("unexpected statuses %v", f.Statuses)
	}
	if f.RootRunID == nil || *f.RootRunID != root || f.PipelineVersionID == nil || *f.PipelineVersionID != version {
		t.Errorf("unexpected filter %+v", f)
	}
	if f.RetryOfRunID != nil {
		t.Error("retry_of_run_id should be unset")
	}
	if f.Page.Limit != 10 {
		t.Errorf("got limit %d, want 10", f.Page.Limit)
	}
}

func TestListRuns_Errors(t *testing.T) {
	env := newTestEnv()
	rr := env.serve(env.h.ListRuns, http.MethodGet, "/api/runs", "/api/runs?retry_of_run_id=zzz", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad uuid: got status %d, want %d", rr.Code, http.StatusBadRequest)
	}

	env.runs.err = engine.ErrInvalidArgument
	rr = env.serve(env.h.ListRuns, http.MethodGet, "/api/runs", "/api/runs?status=DONE", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown status: got status %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRunEndpoints(t *testing.T) {
	runID := uuid.New()

	tests := []struct {
		name       string
		fn         func(env *testEnv) http.HandlerFunc
		method     string
		pattern    string
		err        error
		wantStatus int
	}{
		{"get", func(e *testEnv) http.HandlerFunc { return e.h.GetRun }, http.MethodGet, "/api/runs/{id}", nil, http.StatusOK},
		{"get missing", func(e *testEnv) http.HandlerFunc { return e.h.GetRun }, http.MethodGet, "/api/runs/{id}", engine.ErrNotFound, http.StatusNotFound},
		{"retry", func(e *testEnv) http.HandlerFunc { return e.h.RetryRun }, http.MethodPost, "/api/runs/{id}/retry", nil, http.StatusCreated},
		{"retry not failed", func(e *testEnv) http.HandlerFunc { return e.h.RetryRun }, http.MethodPost, "/api/runs/{id}/retry", engine.ErrInvalidTransition, http.StatusConflict},
		{"delete", func(e *testEnv) http.HandlerFunc { return e.h.DeleteRun }, http.MethodDelete, "/api/runs/{id}", nil, http.StatusNoContent},
		{"delete running", func(e *testEnv) http.HandlerFunc { return e.h.DeleteRun }, http.MethodDelete, "/api/runs/{id}", engine.ErrInvalidTransition, http.StatusConflict},
		{"events missing", func(e *testEnv) http.HandlerFunc { return e.h.GetRunEvents }, http.MethodGet, "/api/runs/{id}/events", engine.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.runs.run = sampleRun(env.tenant.ID, store.RunStatusFailed)
			env.runs.err = tt.err

			target := "/api/runs/" + runID.String()
			switch tt.pattern {
			case "/api/runs/{id}/retry":
				target += "/retry"
			case "/api/runs/{id}/events":
				target += "/events"
			}

			rr := env.serve(tt.fn(env), tt.method, tt.pattern, target, "")
			if rr.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if env.runs.capturedRun != runID || env.runs.capturedTenant != env.tenant.ID {
				t.Errorf("run %v / tenant %v not forwarded", env.runs.capturedRun, env.runs.capturedTenant)
			}
		})
	}
}

func TestRetryRun_RecordsActor(t *testing.T) {
	env := newTestEnv()
	source := sampleRun(env.tenant.ID, store.RunStatusFailed)
	retry := sampleRun(env.tenant.ID, store.RunStatusQueued)
	root := source.ID
	retry.RetryOfRunID = &source.ID
	retry.RootRunID = &root
	retry.Attempt = 2
	env.runs.run = retry

	rr := env.serve(env.h.RetryRun, http.MethodPost, "/api/runs/{id}/retry", "/api/runs/"+source.ID.String()+"/retry", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusCreated)
	}
	if env.runs.capturedActor != "tenant:"+env.tenant.ID.String() {
		t.Errorf("got actor %q", env.runs.capturedActor)
	}

	resp := decode[api.RunResponse](t, rr)
	if resp.RetryOfRunID == nil || *resp.RetryOfRunID != source.ID.String() {
		t.Errorf("got retry_of_run_id %v, want %s", resp.RetryOfRunID, source.ID)
	}
	if resp.RootRunID == nil || *resp.RootRunID != source.ID.String() || resp.Attempt != 2 {
		t.Errorf("unexpected lineage in %+v", resp)
	}
}

func TestGetRunLineage(t *testing.T) {
	env := newTestEnv()
	root := sampleRun(env.tenant.ID, store.RunStatusFailed)
	retry := sampleRun(env.tenant.ID, store.RunStatusSucceeded)
	retry.RetryOfRunID = &root.ID
	retry.RootRunID = &root.ID
	env.runs.lineage = &engine.Lineage{RootRunID: root.ID, Runs: []store.Run{*root, *retry}}

	rr := env.serve(env.h.GetRunLineage, http.MethodGet, "/api/runs/{id}/lineage", "/api/runs/"+retry.ID.String()+"/lineage", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	resp := decode[api.LineageResponse](t, rr)
	if resp.RootRunID != root.ID.String() || len(resp.Runs) != 2 {
		t.Fatalf("unexpected lineage %+v", resp)
	}
	if resp.Runs[0].ID != root.ID.String() || resp.Runs[1].ID != retry.ID.String() {
		t.Error("lineage not in creation order")
	}
}

func TestGetRunEvents(t *testing.T) {
	env := newTestEnv()
	runID := uuid.New()
	queued := store.RunStatusQueued
	env.runs.events = []store.RunEvent{
		{ID: 1, RunID: runID, ToStatus: store.RunStatusQueued, Reason: store.EventCreated, Actor: "api"},
		{ID: 2, RunID: runID, FromStatus: &queued, ToStatus: store.RunStatusRunning, Reason: store.EventClaimed, Actor: "worker-1"},
	}

	rr := env.serve(env.h.GetRunEvents, http.MethodGet, "/api/runs/{id}/events", "/api/runs/"+runID.String()+"/events", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	resp := decode[api.RunEventsResponse](t, rr)
	if len(resp.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(resp.Events))
	}
	if resp.Events[0].FromStatus != nil {
		t.Error("creation event should have no from_status")
	}
	if resp.Events[1].FromStatus == nil || *resp.Events[1].FromStatus != "QUEUED" || resp.Events[1].Actor != "worker-1" {
		t.Errorf("unexpected claim event %+v", resp.Events[1])
	}
}
