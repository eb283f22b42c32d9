package memory

import (
	"context"
	"sort"
	"sync"

	"fleetguard/warden/pkg/compliance"
)

// AuditStore implements compliance.Storage.
type AuditStore struct {
	mu     sync.RWMutex
	audits map[string]*compliance.Audit // keyed by policy id + window key
}

// NewAuditStore creates an empty audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{audits: make(map[string]*compliance.Audit)}
}

// Upsert implements compliance.Storage.
func (s *AuditStore) Upsert(ctx context.Context, a *compliance.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := a.PolicyID + "|" + a.WindowKey
	if existing, ok := s.audits[key]; ok {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
	}
	s.audits[key] = clone(a)
	return nil
}

// Latest implements compliance.Storage.
func (s *AuditStore) Latest(ctx context.Context, policyID string) (*compliance.Audit, error) {
	list, _ := s.List(ctx, policyID, 1)
	if len(list) == 0 {
		return nil, compliance.ErrNotFound
	}
	return list[0], nil
}

// List implements compliance.Storage.
func (s *AuditStore) List(ctx context.Context, policyID string, limit int) ([]*compliance.Audit, error) {
	s.mu.RLock()
	var out []*compliance.Audit
	for _, a := range s.audits {
		if a.PolicyID == policyID {
			out = append(out, clone(a))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AuditDate.After(out[j].AuditDate) })
	return paginate(out, 0, limit), nil
}
