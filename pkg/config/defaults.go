package config

import (
	"os"
	"time"
)

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultTenantID   = "default"
	DefaultInstanceID = "warden"

	// Scheduler defaults
	DefaultSchedulerTick             = 30 * time.Second
	DefaultSchedulerWorkers          = 8
	DefaultSchedulerLeaseTTL         = 2 * time.Minute
	DefaultSchedulerExecutionTimeout = time.Minute
	DefaultSchedulerPendingGrace     = 10 * time.Minute
	DefaultSchedulerRecoveryInterval = 5 * time.Minute

	// Action defaults
	DefaultActionTimeout     = 10 * time.Second
	DefaultActionMaxAttempts = 3
	DefaultActionBackoffBase = 500 * time.Millisecond
	DefaultActionBackoffMax  = 10 * time.Second
	DefaultActionRateLimit   = 20.0
	DefaultActionBurst       = 10

	// Policy defaults
	DefaultPolicySource         = "file"
	DefaultPolicyDir            = "./policies"
	DefaultPolicyDebounce       = 250 * time.Millisecond
	DefaultPolicyGitBranch      = "main"
	DefaultPolicyGitAuthType    = "none"
	DefaultPolicyGitPoll        = time.Minute
	DefaultPolicyGitTimeout     = 30 * time.Second
	DefaultPolicyGitDepth       = 1
	DefaultPolicyGitLocalPath   = "./data/policies-repo"
	DefaultAutonomousThreshold  = 0.9
	DefaultHumanInLoopThreshold = 0.6

	// Execution defaults
	DefaultRecorderAsyncBuffer  = 256
	DefaultRecorderWriteTimeout = 5 * time.Second
	DefaultRetentionSchedule    = "0 3 * * *"
	DefaultRetentionBatchSize   = 500

	// Storage defaults
	DefaultStorageBackend       = "sqlite"
	DefaultSQLitePath           = "./data/warden.db"
	DefaultSQLiteDriver         = "sqlite"
	DefaultSQLiteMaxOpenConns   = 10
	DefaultSQLiteMaxIdleConns   = 5
	DefaultSQLiteBusyTimeout    = 5 * time.Second
	DefaultPostgresHost         = "localhost"
	DefaultPostgresPort         = 5432
	DefaultPostgresDatabase     = "warden"
	DefaultPostgresSSLMode      = "disable"
	DefaultPostgresMaxOpenConns = 25
	DefaultPostgresMaxIdleConns = 5
	DefaultPostgresConnLifetime = 30 * time.Minute

	// Lease defaults
	DefaultLeaseBackend = "sql"
	DefaultRedisAddr    = "localhost:6379"
	DefaultRedisPrefix  = "warden:lease:"

	// Violation defaults
	DefaultAppealWindow  = 7 * 24 * time.Hour
	DefaultSweepSchedule = "@every 1h"
	DefaultSystemActor   = "system"
	DefaultVerbal        = 1
	DefaultWritten       = 2
	DefaultSuspension    = 3
	DefaultTermination   = 4

	// Compliance defaults
	DefaultComplianceSchedule    = "0 2 * * *"
	DefaultComplianceType        = "daily"
	DefaultCorrectiveActionDays  = 14
	DefaultComplianceConcurrency = 4

	// Fleet defaults
	DefaultFleetTimeout         = 10 * time.Second
	DefaultFleetMaxIdleConns    = 50
	DefaultFleetIdleConnTimeout = 90 * time.Second

	// API defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = 1 << 20

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "warden"
	DefaultTracingSampler     = "ratio"
	DefaultTracingRatio       = 0.1
	DefaultTracingExporter    = "otlp"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingService     = "warden"
	DefaultOTLPTimeout        = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultHealthCheckTimeout = 5 * time.Second
)

// DefaultTrainingFor lists the discipline levels that require training by default.
var DefaultTrainingFor = []string{"written_warning", "suspension"}

// DefaultExecutionDurationBuckets are the execution duration histogram buckets.
var DefaultExecutionDurationBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60}

// newConfig returns a Config with the toggles that default to true already
// set. YAML decoding leaves absent keys untouched, so an explicit false in
// the file still wins.
func newConfig() *Config {
	cfg := &Config{}
	cfg.Violations.AutoAdvance = true
	cfg.Storage.SQLite.WALMode = true
	cfg.API.Enabled = true
	cfg.Telemetry.Logging.RedactPII = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Tracing.OTLP.Insecure = true
	return cfg
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := newConfig()
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets defaults for any fields that have zero values.
// It is idempotent.
func ApplyDefaults(cfg *Config) {
	applyEngineDefaults(&cfg.Engine)
	applySchedulerDefaults(&cfg.Scheduler)
	applyActionDefaults(&cfg.Actions)
	applyPolicyDefaults(&cfg.Policies)
	applyExecutionDefaults(&cfg.Executions)
	applyStorageDefaults(&cfg.Storage)
	applyLeaseDefaults(&cfg.Lease, cfg.Storage.Backend)
	applyViolationDefaults(&cfg.Violations)
	applyComplianceDefaults(&cfg.Compliance)
	applyFleetDefaults(&cfg.Fleet)
	applyAPIDefaults(&cfg.API)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.TenantID == "" {
		cfg.TenantID = DefaultTenantID
	}
	if cfg.InstanceID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.InstanceID = host
		} else {
			cfg.InstanceID = DefaultInstanceID
		}
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.Tick == 0 {
		cfg.Tick = DefaultSchedulerTick
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultSchedulerWorkers
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = DefaultSchedulerLeaseTTL
	}
	if cfg.ExecutionTimeout == 0 {
		cfg.ExecutionTimeout = DefaultSchedulerExecutionTimeout
	}
	if cfg.PendingGrace == 0 {
		cfg.PendingGrace = DefaultSchedulerPendingGrace
	}
	if cfg.RecoveryInterval == 0 {
		cfg.RecoveryInterval = DefaultSchedulerRecoveryInterval
	}
}

func applyActionDefaults(cfg *ActionsConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultActionTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultActionMaxAttempts
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = DefaultActionBackoffBase
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = DefaultActionBackoffMax
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultActionRateLimit
	}
	if cfg.Burst == 0 {
		cfg.Burst = DefaultActionBurst
	}
}

func applyPolicyDefaults(cfg *PoliciesConfig) {
	if cfg.Source == "" {
		cfg.Source = DefaultPolicySource
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultPolicyDir
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultPolicyDebounce
	}
	if cfg.Thresholds.Autonomous == 0 {
		cfg.Thresholds.Autonomous = DefaultAutonomousThreshold
	}
	if cfg.Thresholds.HumanInLoop == 0 {
		cfg.Thresholds.HumanInLoop = DefaultHumanInLoopThreshold
	}

	git := &cfg.Git
	if git.Branch == "" {
		git.Branch = DefaultPolicyGitBranch
	}
	if git.Auth.Type == "" {
		git.Auth.Type = DefaultPolicyGitAuthType
	}
	if git.Poll.Interval == 0 {
		git.Poll.Interval = DefaultPolicyGitPoll
	}
	if git.Poll.Timeout == 0 {
		git.Poll.Timeout = DefaultPolicyGitTimeout
	}
	if git.Clone.Depth == 0 {
		git.Clone.Depth = DefaultPolicyGitDepth
	}
	if git.Clone.LocalPath == "" {
		git.Clone.LocalPath = DefaultPolicyGitLocalPath
	}
}

func applyExecutionDefaults(cfg *ExecutionsConfig) {
	if cfg.AsyncBuffer == 0 {
		cfg.AsyncBuffer = DefaultRecorderAsyncBuffer
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultRecorderWriteTimeout
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}
	if cfg.Retention.BatchSize == 0 {
		cfg.Retention.BatchSize = DefaultRetentionBatchSize
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStorageBackend
	}

	sq := &cfg.SQLite
	if sq.Path == "" {
		sq.Path = DefaultSQLitePath
	}
	if sq.Driver == "" {
		sq.Driver = DefaultSQLiteDriver
	}
	if sq.MaxOpenConns == 0 {
		sq.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if sq.MaxIdleConns == 0 {
		sq.MaxIdleConns = DefaultSQLiteMaxIdleConns
	}
	if sq.BusyTimeout == 0 {
		sq.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	pg := &cfg.Postgres
	if pg.Host == "" {
		pg.Host = DefaultPostgresHost
	}
	if pg.Port == 0 {
		pg.Port = DefaultPostgresPort
	}
	if pg.Database == "" {
		pg.Database = DefaultPostgresDatabase
	}
	if pg.SSLMode == "" {
		pg.SSLMode = DefaultPostgresSSLMode
	}
	if pg.MaxOpenConns == 0 {
		pg.MaxOpenConns = DefaultPostgresMaxOpenConns
	}
	if pg.MaxIdleConns == 0 {
		pg.MaxIdleConns = DefaultPostgresMaxIdleConns
	}
	if pg.ConnMaxLifetime == 0 {
		pg.ConnMaxLifetime = DefaultPostgresConnLifetime
	}
}

func applyLeaseDefaults(cfg *LeaseConfig, storageBackend string) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultLeaseBackend
		if storageBackend == "memory" {
			cfg.Backend = "memory"
		}
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = DefaultRedisPrefix
	}
}

func applyViolationDefaults(cfg *ViolationsConfig) {
	if cfg.Thresholds == (ThresholdsConfig{}) {
		cfg.Thresholds = ThresholdsConfig{
			Verbal:      DefaultVerbal,
			Written:     DefaultWritten,
			Suspension:  DefaultSuspension,
			Termination: DefaultTermination,
		}
	}
	if cfg.TrainingFor == nil {
		cfg.TrainingFor = append([]string(nil), DefaultTrainingFor...)
	}
	if cfg.AppealWindow == 0 {
		cfg.AppealWindow = DefaultAppealWindow
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.SystemActor == "" {
		cfg.SystemActor = DefaultSystemActor
	}
}

func applyComplianceDefaults(cfg *ComplianceConfig) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultComplianceSchedule
	}
	if cfg.Type == "" {
		cfg.Type = DefaultComplianceType
	}
	if cfg.CorrectiveActionDays == 0 {
		cfg.CorrectiveActionDays = DefaultCorrectiveActionDays
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultComplianceConcurrency
	}
}

func applyFleetDefaults(cfg *FleetConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultFleetTimeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = DefaultFleetMaxIdleConns
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = DefaultFleetIdleConnTimeout
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Metrics.ExecutionDurationBuckets) == 0 {
		cfg.Metrics.ExecutionDurationBuckets = append([]float64(nil), DefaultExecutionDurationBuckets...)
	}

	tr := &cfg.Tracing
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
	}
	if tr.SampleRatio == 0 && tr.Sampler == "ratio" {
		tr.SampleRatio = DefaultTracingRatio
	}
	if tr.Exporter == "" {
		tr.Exporter = DefaultTracingExporter
	}
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultTracingService
	}
	if tr.OTLP.Timeout == 0 {
		tr.OTLP.Timeout = DefaultOTLPTimeout
	}

	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
