package handlers

import (
	"encoding/json"

	"pipeplane/internal/engine"
	"pipeplane/internal/store"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
)

func optionalID(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func toFacilityResponse(f store.Facility) api.FacilityResponse {
	return api.FacilityResponse{
		ID:           f.ID.String(),
		Name:         f.Name,
		FacilityType: f.FacilityType,
		Timezone:     f.Timezone,
		CreatedAt:    f.CreatedAt,
	}
}

func toConnectorResponse(c store.ConnectorInstance) api.ConnectorInstanceResponse {
	return api.ConnectorInstanceResponse{
		ID:            c.ID.String(),
		FacilityID:    optionalID(c.FacilityID),
		ConnectorType: c.ConnectorType,
		Status:        c.Status,
		Config:        rawOrEmpty(c.Config),
		SecretsRef:    c.SecretsRef,
		CreatedAt:     c.CreatedAt,
	}
}

func toPipelineResponse(p store.Pipeline) api.PipelineResponse {
	return api.PipelineResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func toVersionResponse(v store.PipelineVersion) api.PipelineVersionResponse {
	return api.PipelineVersionResponse{
		ID:           v.ID.String(),
		PipelineID:   v.PipelineID.String(),
		PipelineName: v.PipelineName,
		Version:      v.Version,
		Status:       string(v.Status),
		DAGSpec:      rawOrEmpty(v.DAGSpec),
		CreatedAt:    v.CreatedAt,
	}
}

func toRunResponse(r store.Run) api.RunResponse {
	return api.RunResponse{
		ID:                r.ID.String(),
		TenantID:          r.TenantID.String(),
		PipelineVersionID: r.PipelineVersionID.String(),
		Status:            string(r.Status),
		TriggerType:       r.TriggerType,
		Parameters:        rawOrEmpty(r.Parameters),
		Error:             r.Error,
		Attempt:           r.Attempt,
		RetryOfRunID:      optionalID(r.RetryOfRunID),
		RootRunID:         optionalID(r.RootRunID),
		ClaimedBy:         r.ClaimedBy,
		LeaseExpiresAt:    r.LeaseExpiresAt,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		CreatedAt:         r.CreatedAt,
	}
}

func toLineageResponse(l *engine.Lineage) api.LineageResponse {
	runs := make([]api.RunResponse, 0, len(l.Runs))
	for _, r := range l.Runs {
		runs = append(runs, toRunResponse(r))
	}
	return api.LineageResponse{RootRunID: l.RootRunID.String(), Runs: runs}
}

func toEventResponse(e store.RunEvent) api.RunEventResponse {
	var from *string
	if e.FromStatus != nil {
		s := string(*e.FromStatus)
		from = &s
	}
	return api.RunEventResponse{
		ID:         e.ID,
		FromStatus: from,
		ToStatus:   string(e.ToStatus),
		Reason:     e.Reason,
		Actor:      e.Actor,
		OccurredAt: e.OccurredAt,
	}
}
