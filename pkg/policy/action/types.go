package action

import (
	"fmt"
	"time"

	"fleetguard/warden/pkg/fleet"
)

// Type identifies an action kind.
type Type string

const (
	TypeNotify                Type = "notify"
	TypeCreateWorkOrder       Type = "create_work_order"
	TypeUpdateEntityStatus    Type = "update_entity_status"
	TypeRequireAcknowledgment Type = "require_acknowledgment"
	TypeRecordViolation       Type = "record_violation"
)

// Action is one step of a policy's action list.
type Action struct {
	Type       Type                   `json:"type" yaml:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Required   bool                   `json:"required" yaml:"required,omitempty"`

	// Timeout overrides Config.ActionTimeout for this action.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Status is the outcome of one action.
type Status string

const (
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusSkipped      Status = "skipped"
	StatusNotAttempted Status = "not_attempted"
)

// Result records the outcome of one action.
type Result struct {
	Index     int                    `json:"index"`
	Action    Type                   `json:"action"`
	Required  bool                   `json:"required"`
	Status    Status                 `json:"status"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Attempts  int                    `json:"attempts"`
	Retries   int                    `json:"retries"`
	Duration  time.Duration          `json:"duration"`
	StartedAt time.Time              `json:"started_at,omitempty"`
}

// Outcome is the result of executing an action list.
type Outcome struct {
	Results     []Result `json:"results"`
	Aborted     bool     `json:"aborted"`
	AbortReason string   `json:"abort_reason,omitempty"`
	TimedOut    bool     `json:"timed_out,omitempty"`
	Cancelled   bool     `json:"cancelled,omitempty"`
}

// Failed reports whether the execution must be marked failed.
func (o *Outcome) Failed() bool {
	return o.Aborted
}

// Succeeded counts successful actions.
func (o *Outcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.Status == StatusSucceeded {
			n++
		}
	}
	return n
}

// Context is the result-chaining context passed through an action list.
type Context struct {
	TenantID    string
	PolicyID    string
	PolicyCode  string
	ExecutionID string
	Entity      fleet.EntityRef

	VehicleID   string
	DriverID    string
	WorkOrderID string

	// Snapshot is the point-in-time entity state the conditions saw.
	Snapshot map[string]interface{}

	// Outputs accumulates the outputs of completed actions.
	Outputs map[string]interface{}
}

// NewContext creates a context for one execution. Entity-typed ids are
// filled from the target entity.
func NewContext(tenantID, policyID, policyCode, executionID string, entity fleet.EntityRef, snapshot map[string]interface{}) *Context {
	c := &Context{
		TenantID:    tenantID,
		PolicyID:    policyID,
		PolicyCode:  policyCode,
		ExecutionID: executionID,
		Entity:      entity,
		Snapshot:    snapshot,
		Outputs:     make(map[string]interface{}),
	}
	switch entity.Type {
	case fleet.EntityVehicle:
		c.VehicleID = entity.ID
	case fleet.EntityDriver:
		c.DriverID = entity.ID
	case fleet.EntityWorkOrder:
		c.WorkOrderID = entity.ID
	}
	if c.VehicleID == "" {
		c.VehicleID = stringAttr(snapshot, "vehicle_id")
	}
	if c.DriverID == "" {
		c.DriverID = stringAttr(snapshot, "driver_id")
	}
	return c
}

// IdempotencyKey returns the key passed to collaborators for the action at
// index.
func (c *Context) IdempotencyKey(index int) string {
	return fmt.Sprintf("%s:%d", c.ExecutionID, index)
}

// record merges an action's output into the chaining context.
func (c *Context) record(output map[string]interface{}) {
	if c.Outputs == nil {
		c.Outputs = make(map[string]interface{})
	}
	for k, v := range output {
		c.Outputs[k] = v
	}
	if id, ok := output[OutputWorkOrderID].(string); ok && id != "" {
		c.WorkOrderID = id
	}
}

// templateData exposes the context to parameter templates.
func (c *Context) templateData() map[string]interface{} {
	data := map[string]interface{}{
		"tenant_id":     c.TenantID,
		"policy_id":     c.PolicyID,
		"policy_code":   c.PolicyCode,
		"execution_id":  c.ExecutionID,
		"entity_type":   string(c.Entity.Type),
		"entity_id":     c.Entity.ID,
		"vehicle_id":    c.VehicleID,
		"driver_id":     c.DriverID,
		"work_order_id": c.WorkOrderID,
		"snapshot":      c.Snapshot,
	}
	for k, v := range c.Outputs {
		if _, reserved := data[k]; !reserved {
			data[k] = v
		}
	}
	return data
}

func stringAttr(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Output keys produced by the built-in handlers.
const (
	OutputNotificationID = "notification_id"
	OutputWorkOrderID    = "work_order_id"
	OutputStatus         = "status"
	OutputViolation      = "violation"
)
