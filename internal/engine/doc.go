// Package engine owns the run state machine.
//
// Runs move QUEUED -> RUNNING -> SUCCEEDED | FAILED. A FAILED run may be the
// source of exactly one retry, which creates a new QUEUED run linked to it by
// retry_of_run_id and root_run_id. A RUNNING run whose claim lease expires is
// put back to QUEUED by ReclaimExpired; this is the only backwards transition.
//
// Every transition is persisted together with a run event in one transaction.
package engine
