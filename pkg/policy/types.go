package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/condition"
)

// Status is the lifecycle status of a template version.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// EnforcementMode controls what happens when conditions match.
type EnforcementMode string

const (
	// ModeMonitor records matches without dispatching actions.
	ModeMonitor EnforcementMode = "monitor"

	// ModeHumanInLoop holds matched executions for approval.
	ModeHumanInLoop EnforcementMode = "human_in_loop"

	// ModeAutonomous dispatches actions immediately.
	ModeAutonomous EnforcementMode = "autonomous"
)

// Valid reports whether m is a known mode.
func (m EnforcementMode) Valid() bool {
	switch m {
	case ModeMonitor, ModeHumanInLoop, ModeAutonomous:
		return true
	}
	return false
}

// Schedule says when a policy runs. Exactly one field is set.
type Schedule struct {
	// Interval runs the policy every fixed duration.
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Cron runs the policy on a standard 5-field cron expression.
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`

	// Event runs the policy whenever the named domain event is observed.
	Event string `json:"event,omitempty" yaml:"event,omitempty"`
}

// Periodic reports whether the schedule is time based.
func (s Schedule) Periodic() bool {
	return s.Interval > 0 || s.Cron != ""
}

// Next returns the next run time after from. It returns false for
// event-triggered schedules.
func (s Schedule) Next(from time.Time) (time.Time, bool) {
	switch {
	case s.Interval > 0:
		return from.Add(s.Interval), true
	case s.Cron != "":
		sched, err := cron.ParseStandard(s.Cron)
		if err != nil {
			return time.Time{}, false
		}
		return sched.Next(from), true
	default:
		return time.Time{}, false
	}
}

// Template is one version of a policy.
type Template struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Code        string `json:"code"`
	Version     int    `json:"version"`
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`

	Scope      fleet.Scope     `json:"scope"`
	Conditions *condition.Node `json:"conditions,omitempty"`
	Actions    []action.Action `json:"actions"`
	Mode       EnforcementMode `json:"enforcement_mode"`
	Confidence float64         `json:"confidence"`
	Schedule   Schedule        `json:"schedule"`

	ExecutionEnabled bool   `json:"execution_enabled"`
	Status           Status `json:"status"`

	// Supersedes is the id of the version this one replaced.
	Supersedes string `json:"supersedes,omitempty"`

	// SupersededBy is set when a newer version archived this one.
	SupersededBy string `json:"superseded_by,omitempty"`

	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	ReviewDate    *time.Time `json:"review_date,omitempty"`

	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`

	// Source records where the template was loaded from.
	Source string `json:"source,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// Runnable reports whether the scheduler may pick the template up at all.
func (t *Template) Runnable(now time.Time) bool {
	if t.Status != StatusActive || !t.ExecutionEnabled {
		return false
	}
	if t.EffectiveDate != nil && t.EffectiveDate.After(now) {
		return false
	}
	return true
}

// Due reports whether a periodic template should run at now.
func (t *Template) Due(now time.Time) bool {
	if !t.Runnable(now) || !t.Schedule.Periodic() {
		return false
	}
	return t.NextExecutionAt == nil || !t.NextExecutionAt.After(now)
}

// Fingerprint hashes the structural content of a template. Two versions
// with the same fingerprint are interchangeable.
func (t *Template) Fingerprint() string {
	structural := struct {
		Name        string          `json:"name"`
		Category    string          `json:"category"`
		Description string          `json:"description"`
		Scope       fleet.Scope     `json:"scope"`
		Conditions  *condition.Node `json:"conditions"`
		Actions     []action.Action `json:"actions"`
		Mode        EnforcementMode `json:"mode"`
		Confidence  float64         `json:"confidence"`
		Schedule    Schedule        `json:"schedule"`
	}{t.Name, t.Category, t.Description, t.Scope, t.Conditions, t.Actions, t.Mode, t.Confidence, t.Schedule}

	data, _ := json.Marshal(structural)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy suitable for creating a new version.
func (t *Template) Clone() *Template {
	data, _ := json.Marshal(t)
	var out Template
	_ = json.Unmarshal(data, &out)
	return &out
}

// ModeThresholds maps advisory confidence to a default enforcement mode.
type ModeThresholds struct {
	Autonomous  float64
	HumanInLoop float64
}

// DefaultModeThresholds returns the default confidence thresholds.
func DefaultModeThresholds() ModeThresholds {
	return ModeThresholds{Autonomous: 0.9, HumanInLoop: 0.6}
}

// DefaultMode picks a mode from a confidence score. Confidence never gates
// execution; it only seeds the mode when a template does not set one.
func (th ModeThresholds) DefaultMode(confidence float64) EnforcementMode {
	switch {
	case confidence >= th.Autonomous:
		return ModeAutonomous
	case confidence >= th.HumanInLoop:
		return ModeHumanInLoop
	default:
		return ModeMonitor
	}
}

// ListFilter selects templates.
type ListFilter struct {
	TenantID    string
	Code        string
	Status      Status
	Category    string
	EnabledOnly bool
	EventName   string
}

// Storage persists templates. Implementations must be safe for concurrent
// use.
type Storage interface {
	// Create stores a new template version.
	Create(ctx context.Context, t *Template) error

	// Update overwrites a stored template.
	Update(ctx context.Context, t *Template) error

	// Get returns a template by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Template, error)

	// GetActive returns the active version of a code.
	GetActive(ctx context.Context, tenantID, code string) (*Template, error)

	// List returns templates matching the filter ordered by code and version.
	List(ctx context.Context, filter ListFilter) ([]*Template, error)

	// Versions returns every version of a code, oldest first.
	Versions(ctx context.Context, tenantID, code string) ([]*Template, error)

	// Activate atomically archives the currently active version of t's
	// code and stores t as active. The archived version's SupersededBy and
	// t's Supersedes are linked. It returns the archived id, or "" if
	// there was none.
	Activate(ctx context.Context, t *Template) (string, error)

	// UpdateSchedule records the last and next execution times.
	UpdateSchedule(ctx context.Context, id string, last, next *time.Time) error
}
