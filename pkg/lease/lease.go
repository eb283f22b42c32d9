package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotHeld is returned when releasing a lease that has expired or been
// taken over.
var ErrNotHeld = errors.New("lease not held")

// Key identifies a (policy, entity) pair.
type Key struct {
	PolicyID string
	EntityID string
}

// String returns the key as "policy/entity".
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.PolicyID, k.EntityID)
}

// Lease is a held claim on a key.
type Lease struct {
	Key       Key
	Owner     string
	Token     string
	ExpiresAt time.Time
}

// Store acquires and releases leases. Implementations must be safe for
// concurrent use across goroutines, and across processes where the backend
// is shared.
type Store interface {
	// Acquire claims key for owner for ttl. It returns false when another
	// holder has an unexpired lease on key.
	Acquire(ctx context.Context, key Key, owner string, ttl time.Duration) (*Lease, bool, error)

	// Release gives up a held lease. Releasing a lease that is no longer
	// held returns ErrNotHeld.
	Release(ctx context.Context, l *Lease) error
}

// NewToken returns a random fencing token identifying one acquisition.
func NewToken() string {
	return uuid.New().String()
}
