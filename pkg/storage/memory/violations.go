package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/violation"
)

// ViolationStore implements violation.Storage.
type ViolationStore struct {
	mu         sync.RWMutex
	violations map[string]*violation.Violation
}

// NewViolationStore creates an empty violation store.
func NewViolationStore() *ViolationStore {
	return &ViolationStore{violations: make(map[string]*violation.Violation)}
}

// Create implements violation.Storage.
func (s *ViolationStore) Create(ctx context.Context, v *violation.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.violations[v.ID]; ok {
		return violation.ErrDuplicate
	}
	if v.ExecutionID != "" {
		for _, existing := range s.violations {
			if existing.ExecutionID == v.ExecutionID && existing.ActionIndex == v.ActionIndex {
				return violation.ErrDuplicate
			}
		}
	}
	s.violations[v.ID] = clone(v)
	return nil
}

// Update implements violation.Storage.
func (s *ViolationStore) Update(ctx context.Context, v *violation.Violation, expectedRevision int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.violations[v.ID]
	if !ok {
		return violation.ErrNotFound
	}
	if stored.Revision != expectedRevision {
		return violation.ErrConflict
	}
	s.violations[v.ID] = clone(v)
	return nil
}

// Get implements violation.Storage.
func (s *ViolationStore) Get(ctx context.Context, id string) (*violation.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.violations[id]
	if !ok {
		return nil, violation.ErrNotFound
	}
	return clone(v), nil
}

// FindBySource implements violation.Storage.
func (s *ViolationStore) FindBySource(ctx context.Context, executionID string, actionIndex int) (*violation.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.violations {
		if v.ExecutionID == executionID && v.ActionIndex == actionIndex {
			return clone(v), nil
		}
	}
	return nil, violation.ErrNotFound
}

// Query implements violation.Storage.
func (s *ViolationStore) Query(ctx context.Context, q *violation.Query) ([]*violation.Violation, error) {
	if q == nil {
		q = &violation.Query{}
	}
	s.mu.RLock()
	var out []*violation.Violation
	for _, v := range s.violations {
		if matchesViolation(v, q) {
			out = append(out, clone(v))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return paginate(out, q.Offset, q.Limit), nil
}

// CountClosed implements violation.Storage.
func (s *ViolationStore) CountClosed(ctx context.Context, tenantID, policyCode string, subject fleet.EntityRef) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, v := range s.violations {
		if v.TenantID == tenantID && v.PolicyCode == policyCode && v.Subject == subject && v.State == violation.StateCaseClosed {
			n++
		}
	}
	return n, nil
}

// AppealWindowsElapsed implements violation.Storage.
func (s *ViolationStore) AppealWindowsElapsed(ctx context.Context, now time.Time) ([]*violation.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*violation.Violation
	for _, v := range s.violations {
		if v.State == violation.StateAppealWindow && v.AppealDeadline != nil && !v.AppealDeadline.After(now) {
			out = append(out, clone(v))
		}
	}
	return out, nil
}

func matchesViolation(v *violation.Violation, q *violation.Query) bool {
	if q.TenantID != "" && v.TenantID != q.TenantID {
		return false
	}
	if q.PolicyID != "" && v.PolicyID != q.PolicyID {
		return false
	}
	if q.PolicyCode != "" && v.PolicyCode != q.PolicyCode {
		return false
	}
	if q.SubjectType != "" && v.Subject.Type != q.SubjectType {
		return false
	}
	if q.SubjectID != "" && v.Subject.ID != q.SubjectID {
		return false
	}
	if q.OpenOnly && !v.Open() {
		return false
	}
	if len(q.States) > 0 {
		for _, st := range q.States {
			if v.State == st {
				return true
			}
		}
		return false
	}
	return true
}
