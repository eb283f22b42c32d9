// Package memory implements every domain Storage interface with in-memory
// maps. Records are copied on the way in and out, so callers never share
// state with the store. Intended for tests and single-process demos.
package memory

import (
	"encoding/json"
	"fmt"

	"fleetguard/warden/pkg/storage"
)

// Store bundles the in-memory stores.
type Store struct {
	Policies   *PolicyStore
	Executions *ExecutionStore
	Violations *ViolationStore
	Audits     *AuditStore
	Leases     *LeaseStore
}

// New creates an empty set of in-memory stores.
func New() *Store {
	return &Store{
		Policies:   NewPolicyStore(),
		Executions: NewExecutionStore(),
		Violations: NewViolationStore(),
		Audits:     NewAuditStore(),
		Leases:     NewLeaseStore(),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// clone deep-copies a record through its JSON form, the same encoding the
// SQL store persists.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(storage.NewStorageError("memory", "clone", fmt.Errorf("marshal %T: %w", v, err)))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(storage.NewStorageError("memory", "clone", fmt.Errorf("unmarshal %T: %w", v, err)))
	}
	return &out
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
