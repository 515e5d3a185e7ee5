package engine

import (
	"errors"

	"pipeplane/internal/store"
)

var (
	// ErrNotFound means the referenced version or run does not exist for the tenant.
	ErrNotFound = store.ErrNotFound

	// ErrPreconditionFailed means the pipeline version is not approved.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrInvalidTransition means the requested state change violates the run state machine.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidArgument means a request field holds an unknown value.
	ErrInvalidArgument = errors.New("invalid argument")
)
