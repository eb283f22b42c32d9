package config

import "time"

// Config is the root configuration for a warden process.
type Config struct {
	// Engine holds process identity settings.
	Engine EngineConfig `yaml:"engine"`

	// Scheduler controls the due-policy pass and recovery.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Actions controls action dispatch (timeouts, retries, throttling).
	Actions ActionsConfig `yaml:"actions"`

	// Policies configures where policy templates come from.
	Policies PoliciesConfig `yaml:"policies"`

	// Executions configures the execution recorder and retention.
	Executions ExecutionsConfig `yaml:"executions"`

	// Storage selects and configures the persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Lease selects the per-(policy, entity) lease backend.
	Lease LeaseConfig `yaml:"lease"`

	// Violations configures the violation lifecycle.
	Violations ViolationsConfig `yaml:"violations"`

	// Compliance configures scheduled compliance audits.
	Compliance ComplianceConfig `yaml:"compliance"`

	// Fleet configures the collaborator adapters.
	Fleet FleetConfig `yaml:"fleet"`

	// API configures the HTTP API.
	API APIConfig `yaml:"api"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig holds process identity settings.
type EngineConfig struct {
	// TenantID is used for policies that do not name a tenant.
	// Default: "default"
	TenantID string `yaml:"tenant_id"`

	// InstanceID identifies this process as lease and record owner.
	// Default: hostname, or "warden" when the hostname is unavailable
	InstanceID string `yaml:"instance_id"`
}

// SchedulerConfig controls the due-policy pass.
type SchedulerConfig struct {
	// Tick is the interval between due-policy passes.
	// Default: 30s
	Tick time.Duration `yaml:"tick"`

	// Workers bounds concurrent evaluations within a pass.
	// Default: 8
	Workers int `yaml:"workers"`

	// LeaseTTL is the lifetime of a (policy, entity) lease. Must not be
	// shorter than ExecutionTimeout.
	// Default: 2m
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// ExecutionTimeout bounds a single execution.
	// Default: 1m
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// PendingGrace is how long a record may stay pending before recovery
	// treats it as abandoned.
	// Default: 10m
	PendingGrace time.Duration `yaml:"pending_grace"`

	// RecoveryInterval is how often recovery runs after startup.
	// Default: 5m
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}

// ActionsConfig controls action dispatch.
type ActionsConfig struct {
	// Timeout bounds a single collaborator call.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is the attempt budget for transient failures.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the delay before the first retry.
	// Default: 500ms
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffMax caps the retry delay.
	// Default: 10s
	BackoffMax time.Duration `yaml:"backoff_max"`

	// RateLimit is the collaborator calls per second (0 = unlimited).
	// Default: 20
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the rate limiter burst size.
	// Default: 10
	Burst int `yaml:"burst"`
}

// PoliciesConfig configures the policy template source.
type PoliciesConfig struct {
	// Source is "file" or "git".
	// Default: "file"
	Source string `yaml:"source"`

	// Dir is the directory scanned for YAML policy files in file mode.
	// Default: "./policies"
	Dir string `yaml:"dir"`

	// Watch re-syncs policies when files change.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce coalesces bursts of file events.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce"`

	// Git configures the repository source.
	Git GitPolicyConfig `yaml:"git"`

	// Thresholds derive the enforcement mode from confidence when a
	// template leaves the mode unset.
	Thresholds ModeThresholdsConfig `yaml:"thresholds"`
}

// ModeThresholdsConfig holds confidence cut-offs for mode derivation.
type ModeThresholdsConfig struct {
	// Default: 0.9
	Autonomous float64 `yaml:"autonomous"`

	// Default: 0.6
	HumanInLoop float64 `yaml:"human_in_loop"`
}

// GitPolicyConfig configures the Git policy source.
type GitPolicyConfig struct {
	// Repository URL (HTTPS or SSH).
	// Example: "git@github.com:fleet/policies.git"
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path within the repository holding policy files.
	// Default: "" (repository root)
	Path string `yaml:"path"`

	Auth GitAuthConfig `yaml:"auth"`

	Poll GitPollConfig `yaml:"poll"`

	Clone GitCloneConfig `yaml:"clone"`
}

// GitAuthConfig configures Git authentication.
type GitAuthConfig struct {
	// Type is "token", "ssh" or "none".
	// Default: "none"
	Type string `yaml:"type"`

	// Token for HTTPS authentication.
	Token string `yaml:"token"`

	// SSHKeyPath for SSH authentication.
	SSHKeyPath string `yaml:"ssh_key_path"`

	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// GitPollConfig configures change detection.
type GitPollConfig struct {
	// Interval between polls.
	// Default: 1m
	Interval time.Duration `yaml:"interval"`

	// Timeout for Git operations.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// GitCloneConfig configures repository cloning.
type GitCloneConfig struct {
	// Depth for shallow clones (0 = full clone).
	// Default: 1
	Depth int `yaml:"depth"`

	// LocalPath where the repository is cloned.
	// Default: "./data/policies-repo"
	LocalPath string `yaml:"local_path"`

	// CleanOnStart removes the local clone before cloning.
	CleanOnStart bool `yaml:"clean_on_start"`
}

// ExecutionsConfig configures the execution recorder.
type ExecutionsConfig struct {
	// AsyncBuffer is the recorder listener buffer (0 = synchronous delivery).
	// Default: 256
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds each ledger write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig configures pruning of terminal execution records.
type RetentionConfig struct {
	// Days to keep terminal records. Zero keeps them forever.
	// Default: 0
	Days int `yaml:"days"`

	// Schedule is the cron spec for the pruner.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`

	// BatchSize bounds the records deleted per batch.
	// Default: 500
	BatchSize int `yaml:"batch_size"`

	// ArchivePath, when set, receives pruned records as JSON lines first.
	ArchivePath string `yaml:"archive_path"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "sqlite", "postgres" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	SQLite SQLiteConfig `yaml:"sqlite"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures the embedded SQL store.
type SQLiteConfig struct {
	// Path to the database file.
	// Default: "./data/warden.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (modernc, pure Go) or "sqlite3" (mattn, cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PostgresConfig configures the shared SQL store.
type PostgresConfig struct {
	// Default: "localhost"
	Host string `yaml:"host"`

	// Default: 5432
	Port int `yaml:"port"`

	// Default: "warden"
	Database string `yaml:"database"`

	User string `yaml:"user"`

	Password string `yaml:"password"`

	// SSLMode is passed through to lib/pq.
	// Default: "disable"
	SSLMode string `yaml:"ssl_mode"`

	// Default: 25
	MaxOpenConns int `yaml:"max_open_conns"`

	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// Default: 30m
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LeaseConfig selects the lease backend.
type LeaseConfig struct {
	// Backend is "sql" (same database as storage), "redis" or "memory".
	// Default: "sql", or "memory" when storage.backend is "memory"
	Backend string `yaml:"backend"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis lease store.
type RedisConfig struct {
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	Password string `yaml:"password"`

	DB int `yaml:"db"`

	// Default: "warden:lease:"
	Prefix string `yaml:"prefix"`
}

// ViolationsConfig configures the violation lifecycle.
type ViolationsConfig struct {
	// Thresholds map prior offense counts to discipline levels.
	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// TenantThresholds override Thresholds per tenant.
	TenantThresholds map[string]ThresholdsConfig `yaml:"tenant_thresholds"`

	// TrainingFor lists the discipline levels that require training.
	// Default: ["written_warning", "suspension"]
	TrainingFor []string `yaml:"training_for"`

	// AppealWindow is how long an acknowledged case may be appealed.
	// Default: 168h
	AppealWindow time.Duration `yaml:"appeal_window"`

	// AutoAdvance walks the system-driven steps on detection.
	// Default: true
	AutoAdvance bool `yaml:"auto_advance"`

	// SweepSchedule is the cron spec closing elapsed appeal windows.
	// Default: "@every 1h"
	SweepSchedule string `yaml:"sweep_schedule"`

	// SystemActor is recorded on transitions the engine makes itself.
	// Default: "system"
	SystemActor string `yaml:"system_actor"`
}

// ThresholdsConfig holds discipline thresholds.
type ThresholdsConfig struct {
	Verbal      int `yaml:"verbal"`
	Written     int `yaml:"written"`
	Suspension  int `yaml:"suspension"`
	Termination int `yaml:"termination"`
}

// ComplianceConfig configures compliance audits.
type ComplianceConfig struct {
	// Schedule is the cron spec for auditing active policies (empty disables).
	// Default: "0 2 * * *"
	Schedule string `yaml:"schedule"`

	// Type is the audit type of scheduled runs: daily, weekly or monthly.
	// Default: "daily"
	Type string `yaml:"type"`

	// CorrectiveActionDays sets the corrective action due date.
	// Default: 14
	CorrectiveActionDays int `yaml:"corrective_action_days"`

	// Default: 4
	Concurrency int `yaml:"concurrency"`

	// OnlyTouched audits only policies that executed since the last run.
	OnlyTouched bool `yaml:"only_touched"`
}

// FleetConfig configures the collaborator adapters. FixturePath wins when
// both FixturePath and BaseURL are set. `warden run` needs one of them.
type FleetConfig struct {
	// FixturePath loads a static YAML directory of entities.
	FixturePath string `yaml:"fixture_path"`

	// BaseURL of the fleet REST API.
	BaseURL string `yaml:"base_url"`

	APIKey string `yaml:"api_key"`

	// Timeout for each collaborator request.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// Default: 50
	MaxIdleConns int `yaml:"max_idle_conns"`

	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	// Enabled starts the API with `warden run`.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies.
	// Default: 1 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`

	Tracing TracingConfig `yaml:"tracing"`

	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json", "text" or "console".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`

	// RedactPII masks driver contact details and similar values in logs.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns adds custom redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Default: "warden"
	Namespace string `yaml:"namespace"`

	Subsystem string `yaml:"subsystem"`

	// ExecutionDurationBuckets are histogram buckets in seconds.
	ExecutionDurationBuckets []float64 `yaml:"execution_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler is "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Exporter names the span exporter. Only "otlp" is supported.
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Default: "warden"
	ServiceName string `yaml:"service_name"`

	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
