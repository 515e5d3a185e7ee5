package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"pipeplane/internal/store"

	"github.com/google/uuid"
)

// memStore is an in-memory Store. A transaction holds the store mutex from
// BeginTx until Commit or Rollback, which serializes transactions the way row
// locks serialize them on the same run in PostgreSQL.
type memStore struct {
	mu          sync.Mutex
	versions    map[uuid.UUID]store.PipelineVersion
	runs        map[uuid.UUID]*store.Run
	order       []uuid.UUID
	events      []store.RunEvent
	nextEventID int64

	// claimConflicts makes the next N ClaimNextRun calls report a lost race.
	claimConflicts int
	beginErr       error
}

func newMemStore() *memStore {
	return &memStore{
		versions: make(map[uuid.UUID]store.PipelineVersion),
		runs:     make(map[uuid.UUID]*store.Run),
	}
}

type memTx struct {
	s    *memStore
	once sync.Once
}

func (t *memTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, errors.New("memTx: raw SQL not supported")
}

func (t *memTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("memTx: raw SQL not supported")
}

func (t *memTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (t *memTx) Commit() error {
	t.once.Do(t.s.mu.Unlock)
	return nil
}

func (t *memTx) Rollback() error {
	t.once.Do(t.s.mu.Unlock)
	return nil
}

func (s *memStore) BeginTx(ctx context.Context) (store.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.mu.Lock()
	return &memTx{s: s}, nil
}

// lock takes the mutex unless the caller already holds it through tx.
func (s *memStore) lock(tx store.DBTransaction) func() {
	if tx != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) addVersion(v store.PipelineVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.ID] = v
}

func (s *memStore) GetPipelineVersion(ctx context.Context, id uuid.UUID) (*store.PipelineVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *memStore) CreateRun(ctx context.Context, tx store.DBTransaction, run *store.Run) error {
	defer s.lock(tx)()
	if _, ok := s.runs[run.ID]; ok {
		return store.ErrDuplicate
	}
	if run.RetryOfRunID != nil {
		for _, r := range s.runs {
			if r.RetryOfRunID != nil && *r.RetryOfRunID == *run.RetryOfRunID {
				return store.ErrDuplicate
			}
		}
	}
	cp := *run
	s.runs[run.ID] = &cp
	s.order = append(s.order, run.ID)
	return nil
}

func (s *memStore) GetRun(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Run, error) {
	defer s.lock(tx)()
	return s.getLocked(id)
}

func (s *memStore) GetRunForUpdate(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Run, error) {
	defer s.lock(tx)()
	return s.getLocked(id)
}

func (s *memStore) getLocked(id uuid.UUID) (*store.Run, error) {
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ClaimNextRun(ctx context.Context, tenantID uuid.UUID, workerID string, leaseUntil time.Time) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimConflicts > 0 {
		s.claimConflicts--
		return nil, store.ErrClaimConflict
	}

	var next *store.Run
	for _, id := range s.order {
		r, ok := s.runs[id]
		if !ok || r.TenantID != tenantID || r.Status != store.RunStatusQueued {
			continue
		}
		if next == nil || r.CreatedAt.Before(next.CreatedAt) {
			next = r
		}
	}
	if next == nil {
		return nil, nil
	}

	now := time.Now()
	worker := workerID
	lease := leaseUntil
	next.Status = store.RunStatusRunning
	next.ClaimedBy = &worker
	next.LeaseExpiresAt = &lease
	next.StartedAt = &now

	from := store.RunStatusQueued
	s.appendLocked(store.RunEvent{RunID: next.ID, TenantID: next.TenantID, FromStatus: &from, ToStatus: store.RunStatusRunning, Reason: store.EventClaimed, Actor: workerID})

	cp := *next
	return &cp, nil
}

func (s *memStore) FinishRun(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.RunStatus, errMsg *string) (*store.Run, error) {
	defer s.lock(tx)()
	r, ok := s.runs[id]
	if !ok || r.Status != store.RunStatusRunning {
		return nil, store.ErrNotFound
	}
	now := time.Now()
	r.Status = status
	r.Error = errMsg
	r.FinishedAt = &now
	r.LeaseExpiresAt = nil
	cp := *r
	return &cp, nil
}

func (s *memStore) ExtendLease(ctx context.Context, id uuid.UUID, workerID string, leaseUntil time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok || r.Status != store.RunStatusRunning || r.ClaimedBy == nil || *r.ClaimedBy != workerID {
		return store.ErrNotFound
	}
	lease := leaseUntil
	r.LeaseExpiresAt = &lease
	return nil
}

func (s *memStore) RequeueExpiredLeases(ctx context.Context, now time.Time, limit int) ([]store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Run
	for _, id := range s.order {
		r, ok := s.runs[id]
		if !ok || r.Status != store.RunStatusRunning || r.LeaseExpiresAt == nil || !r.LeaseExpiresAt.Before(now) {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		r.Status = store.RunStatusQueued
		r.ClaimedBy = nil
		r.LeaseExpiresAt = nil
		r.StartedAt = nil

		from := store.RunStatusRunning
		s.appendLocked(store.RunEvent{RunID: r.ID, TenantID: r.TenantID, FromStatus: &from, ToStatus: store.RunStatusQueued, Reason: store.EventLeaseExpired, Actor: "reaper"})
		out = append(out, *r)
	}
	return out, nil
}

func (s *memStore) FindRetryOf(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Run, error) {
	defer s.lock(tx)()
	for _, rid := range s.order {
		r, ok := s.runs[rid]
		if ok && r.RetryOfRunID != nil && *r.RetryOfRunID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) ListRuns(ctx context.Context, filter store.RunFilter) (*store.ListResult[store.Run], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page := filter.Page.Normalize()
	var matched []store.Run
	for _, id := range s.order {
		r, ok := s.runs[id]
		if !ok || r.TenantID != filter.TenantID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, r.Status) {
			continue
		}
		if filter.PipelineVersionID != nil && r.PipelineVersionID != *filter.PipelineVersionID {
			continue
		}
		if filter.RootRunID != nil && (r.RootRunID == nil || *r.RootRunID != *filter.RootRunID) {
			continue
		}
		if filter.RetryOfRunID != nil && (r.RetryOfRunID == nil || *r.RetryOfRunID != *filter.RetryOfRunID) {
			continue
		}
		matched = append(matched, *r)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	result := &store.ListResult[store.Run]{Total: int64(len(matched)), Page: page}
	if page.Offset < len(matched) {
		end := page.Offset + page.Limit
		if end > len(matched) {
			end = len(matched)
		}
		result.Items = matched[page.Offset:end]
	}
	return result, nil
}

func containsStatus(statuses []store.RunStatus, st store.RunStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s *memStore) ListChain(ctx context.Context, tenantID, rootID uuid.UUID) ([]store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Run
	for _, id := range s.order {
		r, ok := s.runs[id]
		if !ok || r.TenantID != tenantID {
			continue
		}
		if r.ID == rootID || (r.RootRunID != nil && *r.RootRunID == rootID) {
			out = append(out, *r)
		}
	}
	return out, nil
}

// DeleteRun mirrors ON DELETE SET NULL on the lineage columns.
func (s *memStore) DeleteRun(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	defer s.lock(tx)()
	if _, ok := s.runs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.runs, id)
	for _, r := range s.runs {
		if r.RetryOfRunID != nil && *r.RetryOfRunID == id {
			r.RetryOfRunID = nil
		}
		if r.RootRunID != nil && *r.RootRunID == id {
			r.RootRunID = nil
		}
	}
	return nil
}

func (s *memStore) CountRunsByStatus(ctx context.Context) (map[store.RunStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[store.RunStatus]int64)
	for _, r := range s.runs {
		counts[r.Status]++
	}
	return counts, nil
}

func (s *memStore) AppendRunEvent(ctx context.Context, tx store.DBTransaction, event *store.RunEvent) error {
	defer s.lock(tx)()
	s.appendLocked(*event)
	return nil
}

func (s *memStore) appendLocked(e store.RunEvent) {
	s.nextEventID++
	e.ID = s.nextEventID
	e.OccurredAt = time.Now()
	s.events = append(s.events, e)
}

func (s *memStore) ListRunEvents(ctx context.Context, runID uuid.UUID) ([]store.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.RunEvent
	for _, e := range s.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// run returns the persisted state of a run, bypassing the engine.
func (s *memStore) run(id uuid.UUID) (store.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return store.Run{}, false
	}
	return *r, true
}

func (s *memStore) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}
