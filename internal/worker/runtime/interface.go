// Package runtime provides the Runtime interface for run execution backends.
package runtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Runtime executes a claimed run.
type Runtime interface {
	// Start begins execution of a run and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions describes the run to execute.
type StartOptions struct {
	RunID             uuid.UUID
	TenantID          uuid.UUID
	PipelineVersionID uuid.UUID
	Attempt           int
	Parameters        json.RawMessage
}

// Result is the outcome of a finished run. A nil Err means the run succeeded.
type Result struct {
	Err error
}

// Handle represents a running execution.
type Handle interface {
	// Wait blocks until the run finishes. A returned error means the outcome is unknown.
	Wait(ctx context.Context) (Result, error)

	// Stop abandons the execution.
	Stop(ctx context.Context) error
}
