package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fleetguard/warden/pkg/execution"
)

// ExecutionStore implements execution.Storage.
type ExecutionStore struct {
	db *DB
}

// Create implements execution.Storage. A duplicate id returns
// execution.ErrImmutable.
func (s *ExecutionStore) Create(ctx context.Context, e *execution.Execution) error {
	data, err := encode(e)
	if err != nil {
		return s.db.wrap("create_execution", err)
	}

	res, err := s.db.exec(ctx, `INSERT INTO executions (
			id, tenant_id, policy_id, policy_code, parent_id, trigger_type,
			entity_type, entity_id, status, owner, resume_count, started_at, completed_at, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.TenantID, e.PolicyID, e.PolicyCode, e.ParentExecutionID, string(e.Trigger),
		string(e.Entity.Type), e.Entity.ID, string(e.Status), e.Owner, e.ResumeCount,
		nanos(e.StartedAt), nullNanos(e.CompletedAt), data)
	if err != nil {
		return s.db.wrap("create_execution", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return execution.ErrImmutable
	}
	return nil
}

// Finalize implements execution.Storage. The update only matches a row
// that is still pending.
func (s *ExecutionStore) Finalize(ctx context.Context, e *execution.Execution) error {
	data, err := encode(e)
	if err != nil {
		return s.db.wrap("finalize_execution", err)
	}

	res, err := s.db.exec(ctx, `UPDATE executions
		SET status = ?, owner = ?, resume_count = ?, completed_at = ?, data = ?
		WHERE id = ? AND status = 'pending'`,
		string(e.Status), e.Owner, e.ResumeCount, nullNanos(e.CompletedAt), data, e.ID)
	if err != nil {
		return s.db.wrap("finalize_execution", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.db.wrap("finalize_execution", err)
	}
	if n == 0 {
		return s.missingOrImmutable(ctx, e.ID)
	}
	return nil
}

// Resume implements execution.Storage. Concurrent resumes of one record
// are serialized on the stored resume count; the loser gets
// execution.ErrImmutable.
func (s *ExecutionStore) Resume(ctx context.Context, id, owner string) (*execution.Execution, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != execution.StatusPending {
		return nil, execution.ErrImmutable
	}

	previous := e.ResumeCount
	e.Owner = owner
	e.ResumeCount++
	data, err := encode(e)
	if err != nil {
		return nil, s.db.wrap("resume_execution", err)
	}

	res, err := s.db.exec(ctx, `UPDATE executions SET owner = ?, resume_count = ?, data = ?
		WHERE id = ? AND status = 'pending' AND resume_count = ?`,
		owner, e.ResumeCount, data, id, previous)
	if err != nil {
		return nil, s.db.wrap("resume_execution", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, s.db.wrap("resume_execution", err)
	} else if n == 0 {
		return nil, execution.ErrImmutable
	}
	return e, nil
}

// Get implements execution.Storage.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*execution.Execution, error) {
	var data string
	err := s.db.queryRow(ctx, `SELECT data FROM executions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, execution.ErrNotFound
	}
	if err != nil {
		return nil, s.db.wrap("get_execution", err)
	}
	e, err := decodeDoc[execution.Execution](data)
	if err != nil {
		return nil, s.db.wrap("get_execution", err)
	}
	return e, nil
}

// Query implements execution.Storage.
func (s *ExecutionStore) Query(ctx context.Context, q *execution.Query) ([]*execution.Execution, error) {
	if q == nil {
		q = &execution.Query{}
	}
	if err := execution.ValidateQuery(q); err != nil {
		return nil, err
	}

	w := executionWhere(q)
	order := " ORDER BY started_at DESC, id DESC"
	if q.SortOrder == "asc" {
		order = " ORDER BY started_at ASC, id ASC"
	}
	limit, limitArgs := s.db.limitClause(q.Limit, q.Offset)

	rows, err := s.db.query(ctx, `SELECT data FROM executions`+w.String()+order+limit,
		append(w.args, limitArgs...)...)
	if err != nil {
		return nil, s.db.wrap("query_executions", err)
	}
	out, err := scanDocs[execution.Execution](rows)
	if err != nil {
		return nil, s.db.wrap("query_executions", err)
	}
	return out, nil
}

// Count implements execution.Storage.
func (s *ExecutionStore) Count(ctx context.Context, q *execution.Query) (int64, error) {
	if q == nil {
		q = &execution.Query{}
	}
	if err := execution.ValidateQuery(q); err != nil {
		return 0, err
	}

	w := executionWhere(q)
	var n int64
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM executions`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, s.db.wrap("count_executions", err)
	}
	return n, nil
}

// ListPending implements execution.Storage.
func (s *ExecutionStore) ListPending(ctx context.Context, startedBefore time.Time) ([]*execution.Execution, error) {
	rows, err := s.db.query(ctx, `SELECT data FROM executions
		WHERE status = 'pending' AND started_at < ? ORDER BY started_at ASC`, nanos(startedBefore))
	if err != nil {
		return nil, s.db.wrap("list_pending", err)
	}
	out, err := scanDocs[execution.Execution](rows)
	if err != nil {
		return nil, s.db.wrap("list_pending", err)
	}
	return out, nil
}

// Delete implements execution.Storage.
func (s *ExecutionStore) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var w where
	w.in("id", ids)
	terminal := execution.TerminalStatuses()
	statuses := make([]string, len(terminal))
	for i, st := range terminal {
		statuses[i] = string(st)
	}
	w.in("status", statuses)

	res, err := s.db.exec(ctx, `DELETE FROM executions`+w.String(), w.args...)
	if err != nil {
		return 0, s.db.wrap("delete_executions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.db.wrap("delete_executions", err)
	}
	return n, nil
}

func (s *ExecutionStore) missingOrImmutable(ctx context.Context, id string) error {
	var one int
	err := s.db.queryRow(ctx, `SELECT 1 FROM executions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return execution.ErrNotFound
	}
	if err != nil {
		return s.db.wrap("finalize_execution", err)
	}
	return execution.ErrImmutable
}

func executionWhere(q *execution.Query) *where {
	w := &where{}
	if q.TenantID != "" {
		w.add("tenant_id = ?", q.TenantID)
	}
	if q.PolicyID != "" {
		w.add("policy_id = ?", q.PolicyID)
	}
	if q.PolicyCode != "" {
		w.add("policy_code = ?", q.PolicyCode)
	}
	if q.EntityType != "" {
		w.add("entity_type = ?", string(q.EntityType))
	}
	if q.EntityID != "" {
		w.add("entity_id = ?", q.EntityID)
	}
	if q.Trigger != "" {
		w.add("trigger_type = ?", string(q.Trigger))
	}
	if q.ParentID != "" {
		w.add("parent_id = ?", q.ParentID)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		w.in("status", statuses)
	}
	if q.StartTime != nil {
		w.add("started_at >= ?", nanos(*q.StartTime))
	}
	if q.EndTime != nil {
		w.add("started_at <= ?", nanos(*q.EndTime))
	}
	if q.CompletedBefore != nil {
		w.add("completed_at IS NOT NULL AND completed_at < ?", nanos(*q.CompletedBefore))
	}
	return w
}
