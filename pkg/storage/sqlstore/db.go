package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"fleetguard/warden/pkg/config"
	"fleetguard/warden/pkg/storage"
)

// Driver names accepted by Open and New.
const (
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps a database handle with the dialect of its driver.
type DB struct {
	db      *sql.DB
	driver  string
	backend string
	logger  *slog.Logger
}

// Store bundles the SQL-backed stores sharing one DB.
type Store struct {
	*DB
	Policies   *PolicyStore
	Executions *ExecutionStore
	Violations *ViolationStore
	Audits     *AuditStore
	Leases     *LeaseStore
}

// Open connects to the backend cfg selects and applies the schema.
func Open(ctx context.Context, cfg *config.StorageConfig) (*Store, error) {
	var (
		driver, dsn string
		maxOpen     int
		maxIdle     int
		lifetime    time.Duration
	)

	switch cfg.Backend {
	case "sqlite":
		driver = cfg.SQLite.Driver
		if driver == "" {
			driver = DriverSQLite
		}
		dsn = sqliteDSN(driver, &cfg.SQLite)
		maxOpen, maxIdle = cfg.SQLite.MaxOpenConns, cfg.SQLite.MaxIdleConns
	case "postgres":
		driver = DriverPostgres
		dsn = postgresDSN(&cfg.Postgres)
		maxOpen, maxIdle = cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns
		lifetime = cfg.Postgres.ConnMaxLifetime
	default:
		return nil, fmt.Errorf("sqlstore does not handle backend %q", cfg.Backend)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, storage.NewStorageError(cfg.Backend, "open", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if lifetime > 0 {
		sqlDB.SetConnMaxLifetime(lifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, storage.NewStorageError(cfg.Backend, "ping", err)
	}

	s := New(sqlDB, driver)
	if err := s.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	s.logger.Info("SQL storage initialized", "driver", driver, "schema_version", SchemaVersion)
	return s, nil
}

// New wraps an open handle without touching the schema. Tests use it with
// sqlmock.
func New(sqlDB *sql.DB, driver string) *Store {
	backend := "sqlite"
	if driver == DriverPostgres {
		backend = "postgres"
	}
	db := &DB{
		db:      sqlDB,
		driver:  driver,
		backend: backend,
		logger:  slog.Default().With("component", "storage.sql", "backend", backend),
	}
	return &Store{
		DB:         db,
		Policies:   &PolicyStore{db: db},
		Executions: &ExecutionStore{db: db},
		Violations: &ViolationStore{db: db},
		Audits:     &AuditStore{db: db},
		Leases:     &LeaseStore{db: db, now: time.Now},
	}
}

// Migrate creates missing tables and checks the schema version.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return d.wrap("create_schema", err)
		}
	}
	if _, err := d.exec(ctx, insertSchemaVersion, SchemaVersion, time.Now().UnixNano()); err != nil {
		return d.wrap("insert_schema_version", err)
	}

	var version sql.NullInt64
	if err := d.db.QueryRowContext(ctx, getSchemaVersion).Scan(&version); err != nil {
		return d.wrap("get_schema_version", err)
	}
	if version.Int64 != SchemaVersion {
		return d.wrap("schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version.Int64))
	}
	return nil
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Backend returns "sqlite" or "postgres".
func (d *DB) Backend() string {
	return d.backend
}

func sqliteDSN(driver string, cfg *config.SQLiteConfig) string {
	busy := cfg.BusyTimeout.Milliseconds()
	if driver == DriverSQLite3 {
		dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, busy)
		if cfg.WALMode {
			dsn += "&_journal_mode=WAL"
		}
		return dsn
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", cfg.Path, busy)
	if cfg.WALMode {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	return dsn
}

func postgresDSN(cfg *config.PostgresConfig) string {
	parts := []string{
		"host=" + cfg.Host,
		"port=" + strconv.Itoa(cfg.Port),
		"dbname=" + cfg.Database,
		"user=" + cfg.User,
		"sslmode=" + cfg.SSLMode,
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+quoteDSN(cfg.Password))
	}
	return strings.Join(parts, " ")
}

// quoteDSN quotes a libpq keyword value.
func quoteDSN(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// limitClause renders pagination. SQLite needs a LIMIT before OFFSET.
func (d *DB) limitClause(limit, offset int) (string, []interface{}) {
	switch {
	case limit > 0 && offset > 0:
		return " LIMIT ? OFFSET ?", []interface{}{limit, offset}
	case limit > 0:
		return " LIMIT ?", []interface{}{limit}
	case offset > 0 && d.driver == DriverPostgres:
		return " OFFSET ?", []interface{}{offset}
	case offset > 0:
		return " LIMIT -1 OFFSET ?", []interface{}{offset}
	}
	return "", nil
}

func (d *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.rebind(query), args...)
}

// withTx runs fn in a transaction, rolling back when fn fails.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *DB) txExec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	return tx.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) txQueryRow(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) *sql.Row {
	return tx.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *DB) txQuery(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (*sql.Rows, error) {
	return tx.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) wrap(op string, err error) error {
	return storage.NewStorageError(d.backend, op, err)
}

// where accumulates AND-ed predicates.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, args ...interface{}) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		w.args = append(w.args, v)
	}
	w.clauses = append(w.clauses, column+" IN ("+strings.Join(marks, ", ")+")")
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func nullNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// scanDocs decodes the single data column of every row.
func scanDocs[T any](rows *sql.Rows) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decode %T: %w", v, err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func decodeDoc[T any](data string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return &v, nil
}
