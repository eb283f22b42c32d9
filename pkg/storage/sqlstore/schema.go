package sqlstore

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// schema is applied statement by statement so it runs unchanged on SQLite
// and PostgreSQL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		code TEXT NOT NULL,
		version INTEGER NOT NULL,
		status TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		execution_enabled INTEGER NOT NULL DEFAULT 0,
		event_name TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		UNIQUE (tenant_id, code, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_policies_code_status ON policies (tenant_id, code, status)`,

	`CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		policy_code TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		trigger_type TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		status TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		resume_count INTEGER NOT NULL DEFAULT 0,
		started_at BIGINT NOT NULL,
		completed_at BIGINT,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_policy ON executions (policy_id, started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_entity ON executions (entity_type, entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status, started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_completed ON executions (completed_at)`,

	`CREATE TABLE IF NOT EXISTS violations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		policy_code TEXT NOT NULL,
		execution_id TEXT,
		action_index INTEGER NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		state TEXT NOT NULL,
		appeal_deadline BIGINT,
		detected_at BIGINT NOT NULL,
		revision INTEGER NOT NULL,
		data TEXT NOT NULL
	)`,
	// NULL execution ids (manual violations) never collide.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_violations_source ON violations (execution_id, action_index)`,
	`CREATE INDEX IF NOT EXISTS idx_violations_subject ON violations (tenant_id, policy_code, subject_type, subject_id, state)`,
	`CREATE INDEX IF NOT EXISTS idx_violations_appeal ON violations (state, appeal_deadline)`,

	`CREATE TABLE IF NOT EXISTS audits (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL,
		window_key TEXT NOT NULL,
		audit_date BIGINT NOT NULL,
		data TEXT NOT NULL,
		UNIQUE (policy_id, window_key)
	)`,

	`CREATE TABLE IF NOT EXISTS leases (
		policy_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		owner TEXT NOT NULL,
		token TEXT NOT NULL,
		expires_at BIGINT NOT NULL,
		PRIMARY KEY (policy_id, entity_id)
	)`,
}

const insertSchemaVersion = `INSERT INTO schema_version (version, applied_at) VALUES (?, ?) ON CONFLICT (version) DO NOTHING`

const getSchemaVersion = `SELECT MAX(version) FROM schema_version`
