package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// TenantStore handles retrieving tenant information for authentication.
type TenantStore interface {
	// CreateTenant inserts a new tenant to the database
	CreateTenant(ctx context.Context, tenant *Tenant, hashedKey string) error

	// GetTenantByID returns a tenant by its ID.
	GetTenantByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// GetTenantByAPIKeyHash returns a tenant by its API key hash.
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (*Tenant, error)
}

// CatalogStore persists facilities, connector instances, pipelines and pipeline versions.
// All lookups are tenant scoped; a row owned by another tenant is reported as ErrNotFound.
type CatalogStore interface {
	CreateFacility(ctx context.Context, f *Facility) error
	GetFacility(ctx context.Context, tenantID, id uuid.UUID) (*Facility, error)
	ListFacilities(ctx context.Context, filter FacilityFilter) (*ListResult[Facility], error)

	CreateConnectorInstance(ctx context.Context, c *ConnectorInstance) error
	ListConnectorInstances(ctx context.Context, filter ConnectorFilter) (*ListResult[ConnectorInstance], error)

	CreatePipeline(ctx context.Context, p *Pipeline) error
	GetPipeline(ctx context.Context, tenantID, id uuid.UUID) (*Pipeline, error)
	ListPipelines(ctx context.Context, filter PipelineFilter) (*ListResult[Pipeline], error)

	CreatePipelineVersion(ctx context.Context, v *PipelineVersion) error
	ListPipelineVersions(ctx context.Context, filter VersionFilter) (*ListResult[PipelineVersion], error)
	SetPipelineVersionStatus(ctx context.Context, tenantID, id uuid.UUID, status VersionStatus) (*PipelineVersion, error)
}

// VersionStore is the read boundary the run engine consumes from pipeline/version CRUD.
type VersionStore interface {
	// GetPipelineVersion returns a version by its ID, or ErrNotFound.
	GetPipelineVersion(ctx context.Context, id uuid.UUID) (*PipelineVersion, error)
}

// RunStore persists runs and their transition history.
// Methods taking a DBTransaction run on the pool when tx is nil.
type RunStore interface {
	// CreateRun inserts a new run.
	CreateRun(ctx context.Context, tx DBTransaction, run *Run) error

	// GetRun returns a run by its ID.
	GetRun(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Run, error)

	// GetRunForUpdate returns a run by its ID and row-locks it until tx ends.
	GetRunForUpdate(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Run, error)

	// ClaimNextRun atomically moves the oldest QUEUED run of the tenant to RUNNING
	// under a lease owned by workerID. Returns (nil, nil) when no run is queued,
	// ErrClaimConflict when the selected row was taken concurrently.
	ClaimNextRun(ctx context.Context, tenantID uuid.UUID, workerID string, leaseUntil time.Time) (*Run, error)

	// FinishRun records a terminal status on a RUNNING run and releases its lease.
	FinishRun(ctx context.Context, tx DBTransaction, id uuid.UUID, status RunStatus, errMsg *string) (*Run, error)

	// ExtendLease pushes the lease of a RUNNING run held by workerID.
	// Returns ErrNotFound when the run is not RUNNING under that worker.
	ExtendLease(ctx context.Context, id uuid.UUID, workerID string, leaseUntil time.Time) error

	// RequeueExpiredLeases flips RUNNING runs whose lease expired before now back to QUEUED.
	RequeueExpiredLeases(ctx context.Context, now time.Time, limit int) ([]Run, error)

	// FindRetryOf returns the run retrying id, or ErrNotFound.
	FindRetryOf(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Run, error)

	// ListRuns returns runs matching the filter ordered by creation.
	ListRuns(ctx context.Context, filter RunFilter) (*ListResult[Run], error)

	// ListChain returns the root run and every run whose root is rootID, ordered by creation.
	ListChain(ctx context.Context, tenantID, rootID uuid.UUID) ([]Run, error)

	// DeleteRun removes a run. Successor lineage references become NULL.
	DeleteRun(ctx context.Context, tx DBTransaction, id uuid.UUID) error

	// CountRunsByStatus returns the number of runs per status across tenants.
	CountRunsByStatus(ctx context.Context) (map[RunStatus]int64, error)

	// AppendRunEvent records one transition.
	AppendRunEvent(ctx context.Context, tx DBTransaction, event *RunEvent) error

	// ListRunEvents returns the transition history of a run, oldest first.
	ListRunEvents(ctx context.Context, runID uuid.UUID) ([]RunEvent, error)
}
