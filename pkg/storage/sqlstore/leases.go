package sqlstore

import (
	"context"
	"time"

	"fleetguard/warden/pkg/lease"
)

// LeaseStore implements lease.Store on the leases table. With PostgreSQL
// it coordinates engine instances across processes.
type LeaseStore struct {
	db  *DB
	now func() time.Time
}

// SetClock overrides the store's time source.
func (s *LeaseStore) SetClock(now func() time.Time) {
	s.now = now
}

// Acquire implements lease.Store. The insert only overwrites an existing
// row whose lease has expired.
func (s *LeaseStore) Acquire(ctx context.Context, key lease.Key, owner string, ttl time.Duration) (*lease.Lease, bool, error) {
	now := s.now()
	l := &lease.Lease{
		Key:       key,
		Owner:     owner,
		Token:     lease.NewToken(),
		ExpiresAt: now.Add(ttl),
	}

	res, err := s.db.exec(ctx, `INSERT INTO leases (policy_id, entity_id, owner, token, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (policy_id, entity_id) DO UPDATE
		SET owner = excluded.owner, token = excluded.token, expires_at = excluded.expires_at
		WHERE leases.expires_at <= ?`,
		key.PolicyID, key.EntityID, owner, l.Token, nanos(l.ExpiresAt), nanos(now))
	if err != nil {
		return nil, false, s.db.wrap("acquire_lease", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, s.db.wrap("acquire_lease", err)
	}
	if n == 0 {
		return nil, false, nil
	}
	return l, true, nil
}

// Release implements lease.Store.
func (s *LeaseStore) Release(ctx context.Context, l *lease.Lease) error {
	res, err := s.db.exec(ctx, `DELETE FROM leases WHERE policy_id = ? AND entity_id = ? AND token = ?`,
		l.Key.PolicyID, l.Key.EntityID, l.Token)
	if err != nil {
		return s.db.wrap("release_lease", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.db.wrap("release_lease", err)
	}
	if n == 0 {
		return lease.ErrNotHeld
	}
	return nil
}
