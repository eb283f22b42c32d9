package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetguard/warden/pkg/policy"
)

// PolicyStore implements policy.Storage.
type PolicyStore struct {
	mu        sync.RWMutex
	templates map[string]*policy.Template
}

// NewPolicyStore creates an empty policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{templates: make(map[string]*policy.Template)}
}

// Create implements policy.Storage.
func (s *PolicyStore) Create(ctx context.Context, t *policy.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[t.ID]; ok {
		return fmt.Errorf("policy %s already exists", t.ID)
	}
	for _, existing := range s.templates {
		if existing.TenantID == t.TenantID && existing.Code == t.Code && existing.Version == t.Version {
			return fmt.Errorf("policy %s v%d already exists", t.Code, t.Version)
		}
	}
	s.templates[t.ID] = clone(t)
	return nil
}

// Update implements policy.Storage.
func (s *PolicyStore) Update(ctx context.Context, t *policy.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[t.ID]; !ok {
		return policy.ErrNotFound
	}
	s.templates[t.ID] = clone(t)
	return nil
}

// Get implements policy.Storage.
func (s *PolicyStore) Get(ctx context.Context, id string) (*policy.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, policy.ErrNotFound
	}
	return clone(t), nil
}

// GetActive implements policy.Storage.
func (s *PolicyStore) GetActive(ctx context.Context, tenantID, code string) (*policy.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.templates {
		if t.TenantID == tenantID && t.Code == code && t.Status == policy.StatusActive {
			return clone(t), nil
		}
	}
	return nil, policy.ErrNotFound
}

// List implements policy.Storage.
func (s *PolicyStore) List(ctx context.Context, filter policy.ListFilter) ([]*policy.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*policy.Template
	for _, t := range s.templates {
		if filter.TenantID != "" && t.TenantID != filter.TenantID {
			continue
		}
		if filter.Code != "" && t.Code != filter.Code {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if filter.EnabledOnly && !t.ExecutionEnabled {
			continue
		}
		if filter.EventName != "" && t.Schedule.Event != filter.EventName {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Versions implements policy.Storage.
func (s *PolicyStore) Versions(ctx context.Context, tenantID, code string) ([]*policy.Template, error) {
	return s.List(ctx, policy.ListFilter{TenantID: tenantID, Code: code})
}

// Activate implements policy.Storage.
func (s *PolicyStore) Activate(ctx context.Context, t *policy.Template) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[t.ID]; !ok {
		return "", policy.ErrNotFound
	}

	previous := ""
	for _, existing := range s.templates {
		if existing.ID == t.ID || existing.TenantID != t.TenantID || existing.Code != t.Code {
			continue
		}
		if existing.Status != policy.StatusActive {
			continue
		}
		now := t.UpdatedAt
		if now.IsZero() {
			now = time.Now().UTC()
		}
		existing.Status = policy.StatusArchived
		existing.SupersededBy = t.ID
		existing.ExecutionEnabled = false
		existing.NextExecutionAt = nil
		existing.ArchivedAt = &now
		existing.UpdatedAt = now
		previous = existing.ID
	}

	t.Supersedes = previous
	s.templates[t.ID] = clone(t)
	return previous, nil
}

// UpdateSchedule implements policy.Storage.
func (s *PolicyStore) UpdateSchedule(ctx context.Context, id string, last, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return policy.ErrNotFound
	}
	t.LastExecutionAt = copyTime(last)
	t.NextExecutionAt = copyTime(next)
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
