package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleetguard/warden/pkg/policy"
)

// PolicyStore implements policy.Storage.
type PolicyStore struct {
	db *DB
}

const upsertPolicyColumns = `tenant_id = ?, code = ?, version = ?, status = ?, category = ?,
	execution_enabled = ?, event_name = ?, data = ?`

func policyArgs(t *policy.Template) ([]interface{}, error) {
	data, err := encode(t)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		t.TenantID, t.Code, t.Version, string(t.Status), t.Category,
		boolInt(t.ExecutionEnabled), t.Schedule.Event, data,
	}, nil
}

// Create implements policy.Storage.
func (s *PolicyStore) Create(ctx context.Context, t *policy.Template) error {
	args, err := policyArgs(t)
	if err != nil {
		return s.db.wrap("create_policy", err)
	}
	_, err = s.db.exec(ctx, `INSERT INTO policies (
			id, tenant_id, code, version, status, category, execution_enabled, event_name, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]interface{}{t.ID}, args...)...)
	if err != nil {
		return s.db.wrap("create_policy", fmt.Errorf("policy %s v%d: %w", t.Code, t.Version, err))
	}
	return nil
}

// Update implements policy.Storage.
func (s *PolicyStore) Update(ctx context.Context, t *policy.Template) error {
	args, err := policyArgs(t)
	if err != nil {
		return s.db.wrap("update_policy", err)
	}
	res, err := s.db.exec(ctx, `UPDATE policies SET `+upsertPolicyColumns+` WHERE id = ?`,
		append(args, t.ID)...)
	if err != nil {
		return s.db.wrap("update_policy", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return policy.ErrNotFound
	}
	return nil
}

// Get implements policy.Storage.
func (s *PolicyStore) Get(ctx context.Context, id string) (*policy.Template, error) {
	return s.one(ctx, "get_policy", `SELECT data FROM policies WHERE id = ?`, id)
}

// GetActive implements policy.Storage.
func (s *PolicyStore) GetActive(ctx context.Context, tenantID, code string) (*policy.Template, error) {
	return s.one(ctx, "get_active_policy",
		`SELECT data FROM policies WHERE tenant_id = ? AND code = ? AND status = 'active'`, tenantID, code)
}

// List implements policy.Storage.
func (s *PolicyStore) List(ctx context.Context, filter policy.ListFilter) ([]*policy.Template, error) {
	var w where
	if filter.TenantID != "" {
		w.add("tenant_id = ?", filter.TenantID)
	}
	if filter.Code != "" {
		w.add("code = ?", filter.Code)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	if filter.Category != "" {
		w.add("category = ?", filter.Category)
	}
	if filter.EnabledOnly {
		w.add("execution_enabled = 1")
	}
	if filter.EventName != "" {
		w.add("event_name = ?", filter.EventName)
	}

	rows, err := s.db.query(ctx, `SELECT data FROM policies`+w.String()+` ORDER BY code ASC, version ASC`, w.args...)
	if err != nil {
		return nil, s.db.wrap("list_policies", err)
	}
	out, err := scanDocs[policy.Template](rows)
	if err != nil {
		return nil, s.db.wrap("list_policies", err)
	}
	return out, nil
}

// Versions implements policy.Storage.
func (s *PolicyStore) Versions(ctx context.Context, tenantID, code string) ([]*policy.Template, error) {
	return s.List(ctx, policy.ListFilter{TenantID: tenantID, Code: code})
}

// Activate implements policy.Storage. The archive of the previous version
// and the store of t commit together.
func (s *PolicyStore) Activate(ctx context.Context, t *policy.Template) (string, error) {
	previous := ""
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := s.db.txQueryRow(ctx, tx, `SELECT 1 FROM policies WHERE id = ?`, t.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return policy.ErrNotFound
		}
		if err != nil {
			return err
		}

		rows, err := s.db.txQuery(ctx, tx, `SELECT data FROM policies
			WHERE tenant_id = ? AND code = ? AND status = 'active' AND id <> ?`, t.TenantID, t.Code, t.ID)
		if err != nil {
			return err
		}
		active, err := scanDocs[policy.Template](rows)
		if err != nil {
			return err
		}

		now := t.UpdatedAt
		if now.IsZero() {
			now = time.Now().UTC()
		}
		for _, existing := range active {
			existing.Status = policy.StatusArchived
			existing.SupersededBy = t.ID
			existing.ExecutionEnabled = false
			existing.NextExecutionAt = nil
			existing.ArchivedAt = &now
			existing.UpdatedAt = now
			if err := s.txUpdate(ctx, tx, existing); err != nil {
				return err
			}
			previous = existing.ID
		}

		t.Supersedes = previous
		return s.txUpdate(ctx, tx, t)
	})
	if errors.Is(err, policy.ErrNotFound) {
		return "", err
	}
	if err != nil {
		return "", s.db.wrap("activate_policy", err)
	}
	return previous, nil
}

// UpdateSchedule implements policy.Storage.
func (s *PolicyStore) UpdateSchedule(ctx context.Context, id string, last, next *time.Time) error {
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var data string
		if err := s.db.txQueryRow(ctx, tx, `SELECT data FROM policies WHERE id = ?`, id).Scan(&data); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return policy.ErrNotFound
			}
			return err
		}
		t, err := decodeDoc[policy.Template](data)
		if err != nil {
			return err
		}
		t.LastExecutionAt = last
		t.NextExecutionAt = next
		return s.txUpdate(ctx, tx, t)
	})
	if errors.Is(err, policy.ErrNotFound) {
		return err
	}
	if err != nil {
		return s.db.wrap("update_schedule", err)
	}
	return nil
}

func (s *PolicyStore) txUpdate(ctx context.Context, tx *sql.Tx, t *policy.Template) error {
	args, err := policyArgs(t)
	if err != nil {
		return err
	}
	_, err = s.db.txExec(ctx, tx, `UPDATE policies SET `+upsertPolicyColumns+` WHERE id = ?`, append(args, t.ID)...)
	return err
}

func (s *PolicyStore) one(ctx context.Context, op, query string, args ...interface{}) (*policy.Template, error) {
	var data string
	err := s.db.queryRow(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, s.db.wrap(op, err)
	}
	t, err := decodeDoc[policy.Template](data)
	if err != nil {
		return nil, s.db.wrap(op, err)
	}
	return t, nil
}
