package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleetguard/warden/pkg/execution"
)

// ExecutionStore implements execution.Storage.
type ExecutionStore struct {
	mu      sync.RWMutex
	records map[string]*execution.Execution
}

// NewExecutionStore creates an empty execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{records: make(map[string]*execution.Execution)}
}

// Create implements execution.Storage.
func (s *ExecutionStore) Create(ctx context.Context, e *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[e.ID]; ok {
		return execution.ErrImmutable
	}
	s.records[e.ID] = clone(e)
	return nil
}

// Finalize implements execution.Storage.
func (s *ExecutionStore) Finalize(ctx context.Context, e *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[e.ID]
	if !ok {
		return execution.ErrNotFound
	}
	if stored.Status != execution.StatusPending {
		return execution.ErrImmutable
	}
	s.records[e.ID] = clone(e)
	return nil
}

// Resume implements execution.Storage.
func (s *ExecutionStore) Resume(ctx context.Context, id, owner string) (*execution.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[id]
	if !ok {
		return nil, execution.ErrNotFound
	}
	if stored.Status != execution.StatusPending {
		return nil, execution.ErrImmutable
	}
	stored.Owner = owner
	stored.ResumeCount++
	return clone(stored), nil
}

// Get implements execution.Storage.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[id]
	if !ok {
		return nil, execution.ErrNotFound
	}
	return clone(e), nil
}

// Query implements execution.Storage.
func (s *ExecutionStore) Query(ctx context.Context, q *execution.Query) ([]*execution.Execution, error) {
	if q == nil {
		q = &execution.Query{}
	}
	s.mu.RLock()
	matched := s.filter(q)
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if q.SortOrder == "asc" {
			return matched[i].StartedAt.Before(matched[j].StartedAt)
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return paginate(matched, q.Offset, q.Limit), nil
}

// Count implements execution.Storage.
func (s *ExecutionStore) Count(ctx context.Context, q *execution.Query) (int64, error) {
	if q == nil {
		q = &execution.Query{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filter(q))), nil
}

// ListPending implements execution.Storage.
func (s *ExecutionStore) ListPending(ctx context.Context, startedBefore time.Time) ([]*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*execution.Execution
	for _, e := range s.records {
		if e.Status == execution.StatusPending && e.StartedAt.Before(startedBefore) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Delete implements execution.Storage.
func (s *ExecutionStore) Delete(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if e, ok := s.records[id]; ok && e.Status.Terminal() {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Size returns the number of stored records.
func (s *ExecutionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *ExecutionStore) filter(q *execution.Query) []*execution.Execution {
	var out []*execution.Execution
	for _, e := range s.records {
		if matchesExecution(e, q) {
			out = append(out, clone(e))
		}
	}
	return out
}

func matchesExecution(e *execution.Execution, q *execution.Query) bool {
	if q.TenantID != "" && e.TenantID != q.TenantID {
		return false
	}
	if q.PolicyID != "" && e.PolicyID != q.PolicyID {
		return false
	}
	if q.PolicyCode != "" && e.PolicyCode != q.PolicyCode {
		return false
	}
	if q.EntityType != "" && e.Entity.Type != q.EntityType {
		return false
	}
	if q.EntityID != "" && e.Entity.ID != q.EntityID {
		return false
	}
	if q.Trigger != "" && e.Trigger != q.Trigger {
		return false
	}
	if q.ParentID != "" && e.ParentExecutionID != q.ParentID {
		return false
	}
	if len(q.Statuses) > 0 {
		found := false
		for _, st := range q.Statuses {
			if e.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.StartTime != nil && e.StartedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && e.StartedAt.After(*q.EndTime) {
		return false
	}
	if q.CompletedBefore != nil && (e.CompletedAt == nil || !e.CompletedAt.Before(*q.CompletedBefore)) {
		return false
	}
	return true
}
