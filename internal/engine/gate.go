package engine

import "pipeplane/internal/store"

// IsRunnable reports whether a new run may be created against v.
// Only APPROVED versions are runnable.
func IsRunnable(v *store.PipelineVersion) bool {
	return v != nil && v.Status == store.VersionStatusApproved
}
