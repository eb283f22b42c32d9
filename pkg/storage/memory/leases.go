package memory

import (
	"context"
	"sync"
	"time"

	"fleetguard/warden/pkg/lease"
)

// LeaseStore implements lease.Store for a single process.
type LeaseStore struct {
	mu     sync.Mutex
	leases map[lease.Key]*lease.Lease
	now    func() time.Time
}

// NewLeaseStore creates an empty lease store.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{
		leases: make(map[lease.Key]*lease.Lease),
		now:    time.Now,
	}
}

// SetClock overrides the store's time source.
func (s *LeaseStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Acquire implements lease.Store.
func (s *LeaseStore) Acquire(ctx context.Context, key lease.Key, owner string, ttl time.Duration) (*lease.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if held, ok := s.leases[key]; ok && held.ExpiresAt.After(now) {
		return nil, false, nil
	}

	l := &lease.Lease{
		Key:       key,
		Owner:     owner,
		Token:     lease.NewToken(),
		ExpiresAt: now.Add(ttl),
	}
	s.leases[key] = l
	c := *l
	return &c, true, nil
}

// Release implements lease.Store.
func (s *LeaseStore) Release(ctx context.Context, l *lease.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.leases[l.Key]
	if !ok || held.Token != l.Token {
		return lease.ErrNotHeld
	}
	delete(s.leases, l.Key)
	return nil
}

// Held reports whether key has an unexpired lease.
func (s *LeaseStore) Held(key lease.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.leases[key]
	return ok && held.ExpiresAt.After(s.now())
}
