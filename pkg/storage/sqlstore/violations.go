package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/violation"
)

// ViolationStore implements violation.Storage.
type ViolationStore struct {
	db *DB
}

// Create implements violation.Storage. A clash on the id or on the
// (execution id, action index) source returns violation.ErrDuplicate.
func (s *ViolationStore) Create(ctx context.Context, v *violation.Violation) error {
	data, err := encode(v)
	if err != nil {
		return s.db.wrap("create_violation", err)
	}

	var executionID interface{}
	if v.ExecutionID != "" {
		executionID = v.ExecutionID
	}

	res, err := s.db.exec(ctx, `INSERT INTO violations (
			id, tenant_id, policy_id, policy_code, execution_id, action_index,
			subject_type, subject_id, state, appeal_deadline, detected_at, revision, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		v.ID, v.TenantID, v.PolicyID, v.PolicyCode, executionID, v.ActionIndex,
		string(v.Subject.Type), v.Subject.ID, string(v.State), nullNanos(v.AppealDeadline),
		nanos(v.DetectedAt), v.Revision, data)
	if err != nil {
		return s.db.wrap("create_violation", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return violation.ErrDuplicate
	}
	return nil
}

// Update implements violation.Storage.
func (s *ViolationStore) Update(ctx context.Context, v *violation.Violation, expectedRevision int) error {
	data, err := encode(v)
	if err != nil {
		return s.db.wrap("update_violation", err)
	}

	res, err := s.db.exec(ctx, `UPDATE violations
		SET state = ?, appeal_deadline = ?, revision = ?, data = ?
		WHERE id = ? AND revision = ?`,
		string(v.State), nullNanos(v.AppealDeadline), v.Revision, data, v.ID, expectedRevision)
	if err != nil {
		return s.db.wrap("update_violation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.db.wrap("update_violation", err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.queryRow(ctx, `SELECT 1 FROM violations WHERE id = ?`, v.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return violation.ErrNotFound
	}
	if err != nil {
		return s.db.wrap("update_violation", err)
	}
	return violation.ErrConflict
}

// Get implements violation.Storage.
func (s *ViolationStore) Get(ctx context.Context, id string) (*violation.Violation, error) {
	return s.one(ctx, "get_violation", `SELECT data FROM violations WHERE id = ?`, id)
}

// FindBySource implements violation.Storage.
func (s *ViolationStore) FindBySource(ctx context.Context, executionID string, actionIndex int) (*violation.Violation, error) {
	return s.one(ctx, "find_violation",
		`SELECT data FROM violations WHERE execution_id = ? AND action_index = ?`, executionID, actionIndex)
}

// Query implements violation.Storage.
func (s *ViolationStore) Query(ctx context.Context, q *violation.Query) ([]*violation.Violation, error) {
	if q == nil {
		q = &violation.Query{}
	}

	var w where
	if q.TenantID != "" {
		w.add("tenant_id = ?", q.TenantID)
	}
	if q.PolicyID != "" {
		w.add("policy_id = ?", q.PolicyID)
	}
	if q.PolicyCode != "" {
		w.add("policy_code = ?", q.PolicyCode)
	}
	if q.SubjectType != "" {
		w.add("subject_type = ?", string(q.SubjectType))
	}
	if q.SubjectID != "" {
		w.add("subject_id = ?", q.SubjectID)
	}
	if q.OpenOnly {
		w.add("state <> ?", string(violation.StateCaseClosed))
	}
	if len(q.States) > 0 {
		states := make([]string, len(q.States))
		for i, st := range q.States {
			states[i] = string(st)
		}
		w.in("state", states)
	}

	limit, limitArgs := s.db.limitClause(q.Limit, q.Offset)
	rows, err := s.db.query(ctx, `SELECT data FROM violations`+w.String()+` ORDER BY detected_at DESC, id DESC`+limit,
		append(w.args, limitArgs...)...)
	if err != nil {
		return nil, s.db.wrap("query_violations", err)
	}
	out, err := scanDocs[violation.Violation](rows)
	if err != nil {
		return nil, s.db.wrap("query_violations", err)
	}
	return out, nil
}

// CountClosed implements violation.Storage.
func (s *ViolationStore) CountClosed(ctx context.Context, tenantID, policyCode string, subject fleet.EntityRef) (int, error) {
	var n int
	err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM violations
		WHERE tenant_id = ? AND policy_code = ? AND subject_type = ? AND subject_id = ? AND state = ?`,
		tenantID, policyCode, string(subject.Type), subject.ID, string(violation.StateCaseClosed)).Scan(&n)
	if err != nil {
		return 0, s.db.wrap("count_closed_violations", err)
	}
	return n, nil
}

// AppealWindowsElapsed implements violation.Storage.
func (s *ViolationStore) AppealWindowsElapsed(ctx context.Context, now time.Time) ([]*violation.Violation, error) {
	rows, err := s.db.query(ctx, `SELECT data FROM violations
		WHERE state = ? AND appeal_deadline IS NOT NULL AND appeal_deadline <= ?
		ORDER BY appeal_deadline ASC`,
		string(violation.StateAppealWindow), nanos(now))
	if err != nil {
		return nil, s.db.wrap("appeal_windows_elapsed", err)
	}
	out, err := scanDocs[violation.Violation](rows)
	if err != nil {
		return nil, s.db.wrap("appeal_windows_elapsed", err)
	}
	return out, nil
}

func (s *ViolationStore) one(ctx context.Context, op, query string, args ...interface{}) (*violation.Violation, error) {
	var data string
	err := s.db.queryRow(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, violation.ErrNotFound
	}
	if err != nil {
		return nil, s.db.wrap(op, err)
	}
	v, err := decodeDoc[violation.Violation](data)
	if err != nil {
		return nil, s.db.wrap(op, err)
	}
	return v, nil
}
