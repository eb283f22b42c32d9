package fleet

import (
	"context"
	"fmt"
	"time"
)

// EntityType identifies a class of fleet entity.
type EntityType string

const (
	EntityVehicle   EntityType = "vehicle"
	EntityDriver    EntityType = "driver"
	EntityWorkOrder EntityType = "work_order"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityVehicle, EntityDriver, EntityWorkOrder:
		return true
	}
	return false
}

// EntityRef points at a single fleet entity.
type EntityRef struct {
	Type EntityType `json:"type" yaml:"type"`
	ID   string     `json:"id" yaml:"id"`
}

// String returns the ref as "type/id".
func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// IsZero reports whether the ref is unset.
func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// Snapshot is a read-only, point-in-time view of an entity's attributes.
type Snapshot struct {
	Ref        EntityRef              `json:"ref"`
	Attributes map[string]interface{} `json:"attributes"`
	CapturedAt time.Time              `json:"captured_at"`
}

// Scope describes the population a policy targets.
type Scope struct {
	EntityType EntityType `json:"entity_type" yaml:"entity_type"`
	TenantID   string     `json:"tenant_id,omitempty" yaml:"-"`

	// Filter restricts targets to entities whose attributes equal the given
	// values. Interpretation is left to the provider.
	Filter map[string]string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// SnapshotProvider supplies entity state to the engine.
type SnapshotProvider interface {
	// GetSnapshot returns the current attributes of an entity.
	// Returns ErrEntityNotFound if the entity does not exist.
	GetSnapshot(ctx context.Context, entityType EntityType, entityID string) (*Snapshot, error)

	// ListTargets returns the ids of all entities in scope.
	ListTargets(ctx context.Context, scope Scope) ([]string, error)
}

// Notification is a request to deliver a templated message.
type Notification struct {
	TenantID       string                 `json:"tenant_id,omitempty"`
	Template       string                 `json:"template"`
	Target         string                 `json:"target"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	IdempotencyKey string                 `json:"-"`
}

// Notifier sends notifications and returns the delivery id.
type Notifier interface {
	Send(ctx context.Context, n Notification) (string, error)
}

// WorkOrderRequest describes a work order to open.
type WorkOrderRequest struct {
	TenantID       string                 `json:"tenant_id,omitempty"`
	VehicleID      string                 `json:"vehicle_id,omitempty"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description,omitempty"`
	Priority       string                 `json:"priority,omitempty"`
	Params         map[string]interface{} `json:"params,omitempty"`
	IdempotencyKey string                 `json:"-"`
}

// WorkOrderService opens work orders and returns the new work order id.
type WorkOrderService interface {
	Create(ctx context.Context, req WorkOrderRequest) (string, error)
}

// StatusUpdate is a request to change an entity's status.
type StatusUpdate struct {
	TenantID       string     `json:"tenant_id,omitempty"`
	EntityType     EntityType `json:"entity_type"`
	EntityID       string     `json:"entity_id"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	IdempotencyKey string     `json:"-"`
}

// StatusUpdater applies entity status changes.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, u StatusUpdate) error
}

// Collaborators bundles the side-effecting services used by actions.
type Collaborators struct {
	Notifier   Notifier
	WorkOrders WorkOrderService
	Status     StatusUpdater
}
