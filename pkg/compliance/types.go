package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy/condition"
)

// ErrNotFound is returned when no audit exists for a policy.
var ErrNotFound = errors.New("compliance audit not found")

// AuditType sets the window an audit covers.
type AuditType string

const (
	AuditDaily   AuditType = "daily"
	AuditWeekly  AuditType = "weekly"
	AuditMonthly AuditType = "monthly"
	AuditAdhoc   AuditType = "adhoc"
)

// Valid reports whether t is a known audit type.
func (t AuditType) Valid() bool {
	switch t {
	case AuditDaily, AuditWeekly, AuditMonthly, AuditAdhoc:
		return true
	}
	return false
}

// WindowKey identifies the audit window containing at, in UTC. Ad-hoc
// audits have no window: each run gets its own key, so they never replace
// each other or a scheduled audit.
//
//	daily    daily:2026-10-19
//	weekly   weekly:2026-W43
//	monthly  monthly:2026-10
//	adhoc    adhoc:2026-10-19T14:05:09.123456789Z
func WindowKey(t AuditType, at time.Time) string {
	at = at.UTC()
	switch t {
	case AuditWeekly:
		year, week := at.ISOWeek()
		return fmt.Sprintf("weekly:%d-W%02d", year, week)
	case AuditMonthly:
		return "monthly:" + at.Format("2006-01")
	case AuditAdhoc:
		return "adhoc:" + at.Format("2006-01-02T15:04:05.000000000Z")
	default:
		return string(t) + ":" + at.Format("2006-01-02")
	}
}

// Finding is one non-compliant entity.
type Finding struct {
	Entity fleet.EntityRef        `json:"entity"`
	Trace  []condition.LeafResult `json:"trace,omitempty"`
}

// Audit is the stored result of one audit window.
type Audit struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	PolicyID      string    `json:"policy_id"`
	PolicyCode    string    `json:"policy_code"`
	PolicyVersion int       `json:"policy_version"`
	Type          AuditType `json:"audit_type"`
	WindowKey     string    `json:"window_key"`
	AuditDate     time.Time `json:"audit_date"`

	Evaluated    int     `json:"evaluated"`
	Compliant    int     `json:"compliant"`
	NonCompliant int     `json:"non_compliant"`
	Skipped      int     `json:"skipped"`
	Score        float64 `json:"compliance_score"`

	Findings            []Finding  `json:"findings"`
	CorrectiveActionDue *time.Time `json:"corrective_action_due,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Score returns compliant/(compliant+nonCompliant), or 1 when nothing was
// evaluated.
func Score(compliant, nonCompliant int) float64 {
	total := compliant + nonCompliant
	if total == 0 {
		return 1.0
	}
	return float64(compliant) / float64(total)
}

// Storage persists audits.
type Storage interface {
	// Upsert stores a by (policy id, window key). When an audit for the
	// window exists it is overwritten, keeping its id and created time,
	// and a is updated to match.
	Upsert(ctx context.Context, a *Audit) error

	// Latest returns the most recent audit of a policy, or ErrNotFound.
	Latest(ctx context.Context, policyID string) (*Audit, error)

	// List returns a policy's audits, newest first.
	List(ctx context.Context, policyID string, limit int) ([]*Audit, error)
}
