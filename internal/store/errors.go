package store

import "errors"

var (
	// ErrNotFound is returned when the referenced row does not exist
	// (or is not visible to the requesting tenant).
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("already exists")

	// ErrClaimConflict is returned when a selected QUEUED run was transitioned
	// by a concurrent claimer before the status flip committed.
	ErrClaimConflict = errors.New("claim conflict")
)
