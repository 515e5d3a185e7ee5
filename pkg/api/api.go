// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the worker and the controller.
package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ListResponse is a page of a collection endpoint.
type ListResponse[T any] struct {
	Items  []T   `json:"items"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

// CreateTenantRequest is the request body for creating a new tenant.
type CreateTenantRequest struct {
	Name           string `json:"name"`
	RateLimit      int    `json:"rate_limit,omitempty"`
	RateLimitBurst int    `json:"rate_limit_burst,omitempty"`
}

// CreateTenantResponse carries the only copy of the API key ever returned.
type CreateTenantResponse struct {
	ID     string `json:"tenant_id"`
	Name   string `json:"name"`
	ApiKey string `json:"api_key"`
}

type CreateFacilityRequest struct {
	Name         string `json:"name"`
	FacilityType string `json:"facility_type"`
	Timezone     string `json:"timezone,omitempty"`
}

type FacilityResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FacilityType string    `json:"facility_type"`
	Timezone     string    `json:"timezone"`
	CreatedAt    time.Time `json:"created_at"`
}

type CreateConnectorInstanceRequest struct {
	FacilityID    *string         `json:"facility_id,omitempty"`
	ConnectorType string          `json:"connector_type"`
	Config        json.RawMessage `json:"config,omitempty"`
	SecretsRef    *string         `json:"secrets_ref,omitempty"`
}

type ConnectorInstanceResponse struct {
	ID            string          `json:"id"`
	FacilityID    *string         `json:"facility_id,omitempty"`
	ConnectorType string          `json:"connector_type"`
	Status        string          `json:"status"`
	Config        json.RawMessage `json:"config"`
	SecretsRef    *string         `json:"secrets_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CreatePipelineRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type PipelineResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreatePipelineVersionRequest registers a DRAFT version. DAGSpec is stored as given.
type CreatePipelineVersionRequest struct {
	PipelineID string          `json:"pipeline_id"`
	Version    string          `json:"version"`
	DAGSpec    json.RawMessage `json:"dag_spec"`
}

// SetVersionStatusRequest drives the approval workflow: DRAFT, APPROVED or DEPRECATED.
type SetVersionStatusRequest struct {
	Status string `json:"status"`
}

type PipelineVersionResponse struct {
	ID           string          `json:"id"`
	PipelineID   string          `json:"pipeline_id"`
	PipelineName string          `json:"pipeline_name,omitempty"`
	Version      string          `json:"version"`
	Status       string          `json:"status"`
	DAGSpec      json.RawMessage `json:"dag_spec"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CreateRunRequest is the request body for starting a run. TriggerType defaults to "manual".
type CreateRunRequest struct {
	PipelineVersionID string          `json:"pipeline_version_id"`
	TriggerType       string          `json:"trigger_type,omitempty"`
	Parameters        json.RawMessage `json:"parameters,omitempty"`
}

// RunResponse represents a run in API responses.
type RunResponse struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	PipelineVersionID string          `json:"pipeline_version_id"`
	Status            string          `json:"status"`
	TriggerType       string          `json:"trigger_type"`
	Parameters        json.RawMessage `json:"parameters"`
	Error             *string         `json:"error,omitempty"`
	Attempt           int             `json:"attempt"`
	RetryOfRunID      *string         `json:"retry_of_run_id"`
	RootRunID         *string         `json:"root_run_id"`
	ClaimedBy         *string         `json:"claimed_by,omitempty"`
	LeaseExpiresAt    *time.Time      `json:"lease_expires_at,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// LineageResponse lists every run of a retry chain, oldest first.
type LineageResponse struct {
	RootRunID string        `json:"root_run_id"`
	Runs      []RunResponse `json:"runs"`
}

type RunEventResponse struct {
	ID         int64     `json:"id"`
	FromStatus *string   `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

type RunEventsResponse struct {
	RunID  string             `json:"run_id"`
	Events []RunEventResponse `json:"events"`
}

// ClaimRunRequest is sent by a worker polling one tenant for work.
type ClaimRunRequest struct {
	TenantID string `json:"tenant_id"`
	WorkerID string `json:"worker_id"`
}

type HeartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

type HeartbeatResponse struct {
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

// CompleteRunRequest reports the outcome of a claimed run: SUCCEEDED or FAILED.
type CompleteRunRequest struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	WorkerID string `json:"worker_id"`
}

// Trigger types set by the platform. Clients may send any other label.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)
