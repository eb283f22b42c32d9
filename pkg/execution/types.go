package execution

import (
	"context"
	"time"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/condition"
)

// Trigger says why an execution happened.
type Trigger string

const (
	TriggerSchedule Trigger = "scheduled"
	TriggerEvent    Trigger = "event"
	TriggerManual   Trigger = "manual"
)

// Status is the state of an execution record.
type Status string

const (
	StatusPending                 Status = "pending"
	StatusCompleted               Status = "completed"
	StatusFailed                  Status = "failed"
	StatusSkippedConditionsNotMet Status = "skipped_conditions_not_met"
	StatusSkipped                 Status = "skipped"
	StatusAwaitingApproval        Status = "awaiting_approval"
	StatusRejected                Status = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkippedConditionsNotMet, StatusSkipped, StatusRejected:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusAwaitingApproval || s.Terminal()
}

// TerminalStatuses lists every terminal status.
func TerminalStatuses() []Status {
	return []Status{
		StatusCompleted,
		StatusFailed,
		StatusSkippedConditionsNotMet,
		StatusSkipped,
		StatusRejected,
	}
}

// Execution is one policy evaluated against one entity.
type Execution struct {
	ID                string `json:"id"`
	TenantID          string `json:"tenant_id"`
	PolicyID          string `json:"policy_id"`
	PolicyCode        string `json:"policy_code"`
	PolicyVersion     int    `json:"policy_version"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`

	Trigger        Trigger                `json:"trigger"`
	TriggerPayload map[string]interface{} `json:"trigger_payload,omitempty"`

	Entity      fleet.EntityRef `json:"entity"`
	VehicleID   string          `json:"vehicle_id,omitempty"`
	DriverID    string          `json:"driver_id,omitempty"`
	WorkOrderID string          `json:"work_order_id,omitempty"`

	Mode policy.EnforcementMode `json:"enforcement_mode"`

	// Snapshot is the entity state the conditions were evaluated against.
	// Resumed and approved executions reuse it instead of re-reading.
	Snapshot   map[string]interface{} `json:"snapshot,omitempty"`
	SnapshotAt *time.Time             `json:"snapshot_at,omitempty"`

	// SnapshotHash is the SHA-256 of the canonical JSON snapshot, checked
	// before a stored snapshot is reused.
	SnapshotHash string `json:"snapshot_hash,omitempty"`

	Matched        bool                   `json:"matched"`
	ConditionTrace []condition.LeafResult `json:"condition_trace,omitempty"`
	ActionResults  []action.Result        `json:"action_results,omitempty"`

	Status       Status `json:"status"`
	StatusReason string `json:"status_reason,omitempty"`

	// Actor is the user who approved or rejected, for manual records.
	Actor string `json:"actor,omitempty"`

	// Owner is the engine instance that wrote the pending record.
	Owner       string `json:"owner,omitempty"`
	ResumeCount int    `json:"resume_count,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Query filters execution records.
type Query struct {
	TenantID   string
	PolicyID   string
	PolicyCode string
	EntityType fleet.EntityType
	EntityID   string
	Statuses   []Status
	Trigger    Trigger
	ParentID   string

	// Time range on StartedAt, inclusive.
	StartTime *time.Time
	EndTime   *time.Time

	// CompletedBefore matches records finalized strictly before the time.
	CompletedBefore *time.Time

	Limit  int
	Offset int

	// SortOrder is "asc" or "desc" (default) on StartedAt.
	SortOrder string
}

// Storage persists execution records. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Create stores a new pending record.
	Create(ctx context.Context, e *Execution) error

	// Finalize writes the outcome of a pending record. It returns
	// ErrImmutable when the stored record is no longer pending.
	Finalize(ctx context.Context, e *Execution) error

	// Resume claims a stale pending record for owner and increments its
	// resume count. It returns ErrImmutable if the record is not pending.
	Resume(ctx context.Context, id, owner string) (*Execution, error)

	// Get returns a record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Execution, error)

	// Query returns records matching q.
	Query(ctx context.Context, q *Query) ([]*Execution, error)

	// Count returns the number of records matching q, ignoring pagination.
	Count(ctx context.Context, q *Query) (int64, error)

	// ListPending returns pending records started before the given time.
	ListPending(ctx context.Context, startedBefore time.Time) ([]*Execution, error)

	// Delete removes terminal records by id and returns how many were
	// removed. Non-terminal records are left in place.
	Delete(ctx context.Context, ids []string) (int64, error)
}
