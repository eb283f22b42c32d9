package violation

import (
	"context"
	"time"

	"fleetguard/warden/pkg/fleet"
)

// State is a step of the violation lifecycle.
type State string

const (
	StateDetected            State = "detected"
	StateInvestigation       State = "investigation"
	StateFirstOffense        State = "first_offense"
	StateRepeatOffense       State = "repeat_offense"
	StateDisciplinaryAction  State = "disciplinary_action"
	StateTrainingRequired    State = "training_required"
	StateTrainingComplete    State = "training_complete"
	StateEmployeeAcknowledge State = "employee_acknowledge"
	StateAppealWindow        State = "appeal_window"
	StateAppealReview        State = "appeal_review"
	StateAppealGranted       State = "appeal_granted"
	StateAppealDenied        State = "appeal_denied"
	StateCaseReopened        State = "case_reopened"
	StateCaseClosed          State = "case_closed"
)

// Terminal reports whether s ends the lifecycle.
func (s State) Terminal() bool {
	return s == StateCaseClosed
}

// Severity grades an infraction.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySerious  Severity = "serious"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityModerate, SeveritySerious, SeverityCritical:
		return true
	}
	return false
}

// Discipline is the disciplinary action taken for a violation.
type Discipline string

const (
	DisciplineNone           Discipline = ""
	DisciplineVerbalWarning  Discipline = "verbal_warning"
	DisciplineWrittenWarning Discipline = "written_warning"
	DisciplineSuspension     Discipline = "suspension"
	DisciplineTermination    Discipline = "termination"
)

// Rank orders disciplinary actions by severity. DisciplineNone ranks 0.
func (d Discipline) Rank() int {
	switch d {
	case DisciplineVerbalWarning:
		return 1
	case DisciplineWrittenWarning:
		return 2
	case DisciplineSuspension:
		return 3
	case DisciplineTermination:
		return 4
	}
	return 0
}

// AppealStatus tracks an appeal on a violation.
type AppealStatus string

const (
	AppealNone    AppealStatus = "none"
	AppealFiled   AppealStatus = "filed"
	AppealGranted AppealStatus = "granted"
	AppealDenied  AppealStatus = "denied"
)

// Transition is one entry of a violation's audit trail.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Violation is one detected infraction.
type Violation struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	PolicyID   string `json:"policy_id"`
	PolicyCode string `json:"policy_code"`

	// ExecutionID and ActionIndex identify the action that signalled the
	// violation. Together they make detection idempotent.
	ExecutionID string `json:"execution_id,omitempty"`
	ActionIndex int    `json:"action_index"`

	Subject     fleet.EntityRef `json:"subject"`
	Severity    Severity        `json:"severity"`
	Description string          `json:"description,omitempty"`

	// OffenseCount is fixed at detection and never recomputed.
	OffenseCount int `json:"offense_count"`

	Discipline       Discipline   `json:"discipline,omitempty"`
	TrainingRequired bool         `json:"training_required"`
	AppealStatus     AppealStatus `json:"appeal_status"`
	State            State        `json:"state"`

	AppealDeadline *time.Time `json:"appeal_deadline,omitempty"`
	DetectedAt     time.Time  `json:"detected_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`

	History []Transition `json:"history"`

	// Revision increments on every update.
	Revision int `json:"revision"`
}

// Open reports whether the case is still in progress.
func (v *Violation) Open() bool {
	return !v.State.Terminal()
}

// Query filters violations.
type Query struct {
	TenantID    string
	PolicyID    string
	PolicyCode  string
	SubjectType fleet.EntityType
	SubjectID   string
	States      []State
	OpenOnly    bool
	Limit       int
	Offset      int
}

// Storage persists violations. Implementations must be safe for concurrent
// use.
type Storage interface {
	// Create stores a new violation. Returns ErrDuplicate when a violation
	// already exists for the same non-empty execution id and action index.
	Create(ctx context.Context, v *Violation) error

	// Update stores v if the stored revision equals expectedRevision.
	// Returns ErrConflict otherwise.
	Update(ctx context.Context, v *Violation, expectedRevision int) error

	// Get returns a violation by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Violation, error)

	// FindBySource returns the violation created by an execution action.
	FindBySource(ctx context.Context, executionID string, actionIndex int) (*Violation, error)

	// Query returns violations matching q, newest first.
	Query(ctx context.Context, q *Query) ([]*Violation, error)

	// CountClosed counts closed violations of a policy code for a subject.
	CountClosed(ctx context.Context, tenantID, policyCode string, subject fleet.EntityRef) (int, error)

	// AppealWindowsElapsed returns violations in the appeal window whose
	// deadline is at or before now.
	AppealWindowsElapsed(ctx context.Context, now time.Time) ([]*Violation, error)
}
