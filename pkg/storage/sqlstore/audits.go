package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"fleetguard/warden/pkg/compliance"
)

// AuditStore implements compliance.Storage.
type AuditStore struct {
	db *DB
}

// Upsert implements compliance.Storage.
func (s *AuditStore) Upsert(ctx context.Context, a *compliance.Audit) error {
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var data string
		err := s.db.txQueryRow(ctx, tx, `SELECT data FROM audits WHERE policy_id = ? AND window_key = ?`,
			a.PolicyID, a.WindowKey).Scan(&data)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			existing, err := decodeDoc[compliance.Audit](data)
			if err != nil {
				return err
			}
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
		}

		doc, err := encode(a)
		if err != nil {
			return err
		}
		_, err = s.db.txExec(ctx, tx, `INSERT INTO audits (id, policy_id, window_key, audit_date, data)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (policy_id, window_key) DO UPDATE SET audit_date = excluded.audit_date, data = excluded.data`,
			a.ID, a.PolicyID, a.WindowKey, nanos(a.AuditDate), doc)
		return err
	})
	if err != nil {
		return s.db.wrap("upsert_audit", err)
	}
	return nil
}

// Latest implements compliance.Storage.
func (s *AuditStore) Latest(ctx context.Context, policyID string) (*compliance.Audit, error) {
	list, err := s.List(ctx, policyID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, compliance.ErrNotFound
	}
	return list[0], nil
}

// List implements compliance.Storage.
func (s *AuditStore) List(ctx context.Context, policyID string, limit int) ([]*compliance.Audit, error) {
	clause, limitArgs := s.db.limitClause(limit, 0)
	rows, err := s.db.query(ctx, `SELECT data FROM audits WHERE policy_id = ? ORDER BY audit_date DESC`+clause,
		append([]interface{}{policyID}, limitArgs...)...)
	if err != nil {
		return nil, s.db.wrap("list_audits", err)
	}
	out, err := scanDocs[compliance.Audit](rows)
	if err != nil {
		return nil, s.db.wrap("list_audits", err)
	}
	return out, nil
}
