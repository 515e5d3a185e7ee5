// Package store contains the database layer for pipeplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant represents a tenant in the multi-tenant system.
// All operations must be scoped by TenantID.
type Tenant struct {
	ID             uuid.UUID
	Name           string
	RateLimit      int // requests per second, 0 means unlimited
	RateLimitBurst int
	CreatedAt      time.Time
}

// Facility is a physical or logical site owned by a tenant.
type Facility struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	FacilityType string
	Timezone     string
	CreatedAt    time.Time
}

// ConnectorInstance is a configured connector a pipeline step can read from or write to.
type ConnectorInstance struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	FacilityID    *uuid.UUID
	ConnectorType string
	Status        string
	Config        json.RawMessage
	SecretsRef    *string
	CreatedAt     time.Time
}

// ConnectorStatusActive is the status of a freshly created connector instance.
const ConnectorStatusActive = "ACTIVE"

// Pipeline is a named, tenant-owned pipeline definition.
type Pipeline struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	Description *string
	CreatedAt   time.Time
}

// PipelineVersion is an immutable DAG definition of a pipeline.
// Only APPROVED versions may back a new run.
type PipelineVersion struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	PipelineID   uuid.UUID
	PipelineName string // joined from pipelines, empty when unknown
	Version      string
	Status       VersionStatus
	DAGSpec      json.RawMessage
	CreatedAt    time.Time
}

// VersionStatus represents the approval state of a pipeline version.
type VersionStatus string

const (
	VersionStatusDraft      VersionStatus = "DRAFT"
	VersionStatusApproved   VersionStatus = "APPROVED"
	VersionStatusDeprecated VersionStatus = "DEPRECATED"
)

// Valid reports whether s is a known version status.
func (s VersionStatus) Valid() bool {
	switch s {
	case VersionStatusDraft, VersionStatusApproved, VersionStatusDeprecated:
		return true
	}
	return false
}

// Run represents one execution attempt of an approved pipeline version.
type Run struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	PipelineVersionID uuid.UUID
	Status            RunStatus
	TriggerType       string
	Parameters        json.RawMessage
	Error             *string
	Attempt           int

	// Lineage. Both are nil for original runs and set once when a retry is created.
	RetryOfRunID *uuid.UUID
	RootRunID    *uuid.UUID

	// Claim lease, only meaningful while RUNNING.
	ClaimedBy      *string
	LeaseExpiresAt *time.Time

	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// ChainRoot returns the id of the first run in the retry chain.
// A run without lineage is its own root.
func (r *Run) ChainRoot() uuid.UUID {
	if r.RootRunID != nil {
		return *r.RootRunID
	}
	return r.ID
}

// RunStatus represents the state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further completion transition is legal from s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// RunEvent is one recorded transition of a run.
type RunEvent struct {
	ID         int64
	RunID      uuid.UUID
	TenantID   uuid.UUID
	FromStatus *RunStatus // nil for creation
	ToStatus   RunStatus
	Reason     string
	Actor      string
	OccurredAt time.Time
}

// Event reasons recorded in the run transition history.
const (
	EventCreated      = "created"
	EventClaimed      = "claimed"
	EventSucceeded    = "succeeded"
	EventFailed       = "failed"
	EventRetried      = "retried"
	EventLeaseExpired = "lease_expired"
)
