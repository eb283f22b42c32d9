package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "storage.backend").
	Field string

	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d configuration errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Has reports whether field failed validation.
func (e ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// fieldErrors accumulates FieldErrors for one section.
type fieldErrors []FieldError

func (f *fieldErrors) add(field, format string, args ...interface{}) {
	*f = append(*f, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (f *fieldErrors) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	f.add(field, "invalid value %q: must be one of %s", value, strings.Join(allowed, ", "))
}

func (f *fieldErrors) schedule(field, spec string) {
	if spec == "" {
		return
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		f.add(field, "invalid cron schedule %q: %v", spec, err)
	}
}

// Validate validates the entire configuration and returns a ValidationError
// listing every failing field, or nil.
func Validate(cfg *Config) error {
	var errs fieldErrors

	validateScheduler(&errs, &cfg.Scheduler)
	validateActions(&errs, &cfg.Actions)
	validatePolicies(&errs, &cfg.Policies)
	validateExecutions(&errs, &cfg.Executions)
	validateStorage(&errs, &cfg.Storage)
	validateLease(&errs, &cfg.Lease, cfg.Storage.Backend)
	validateViolations(&errs, &cfg.Violations)
	validateCompliance(&errs, &cfg.Compliance)
	validateFleet(&errs, &cfg.Fleet)
	validateAPI(&errs, &cfg.API)
	validateTelemetry(&errs, &cfg.Telemetry)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateScheduler(errs *fieldErrors, cfg *SchedulerConfig) {
	if cfg.Workers < 1 {
		errs.add("scheduler.workers", "must be at least 1, got %d", cfg.Workers)
	}
	if cfg.Tick <= 0 {
		errs.add("scheduler.tick", "must be positive")
	}
	if cfg.ExecutionTimeout <= 0 {
		errs.add("scheduler.execution_timeout", "must be positive")
	}
	if cfg.LeaseTTL < cfg.ExecutionTimeout {
		errs.add("scheduler.lease_ttl", "must not be shorter than execution_timeout (%s)", cfg.ExecutionTimeout)
	}
	if cfg.PendingGrace <= cfg.LeaseTTL {
		errs.add("scheduler.pending_grace", "must be longer than lease_ttl (%s)", cfg.LeaseTTL)
	}
	if cfg.RecoveryInterval < 0 {
		errs.add("scheduler.recovery_interval", "must not be negative")
	}
}

func validateActions(errs *fieldErrors, cfg *ActionsConfig) {
	if cfg.Timeout <= 0 {
		errs.add("actions.timeout", "must be positive")
	}
	if cfg.MaxAttempts < 1 {
		errs.add("actions.max_attempts", "must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		errs.add("actions.backoff_max", "must not be shorter than backoff_base")
	}
	if cfg.RateLimit < 0 {
		errs.add("actions.rate_limit", "must not be negative")
	}
	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		errs.add("actions.burst", "must be at least 1 when rate_limit is set")
	}
}

func validatePolicies(errs *fieldErrors, cfg *PoliciesConfig) {
	errs.oneOf("policies.source", cfg.Source, "file", "git")

	switch cfg.Source {
	case "file":
		if cfg.Dir == "" {
			errs.add("policies.dir", "is required for the file source")
		}
	case "git":
		git := &cfg.Git
		if git.Repository == "" {
			errs.add("policies.git.repository", "is required for the git source")
		}
		errs.oneOf("policies.git.auth.type", git.Auth.Type, "none", "token", "ssh")
		if git.Auth.Type == "token" && git.Auth.Token == "" {
			errs.add("policies.git.auth.token", "is required for token auth")
		}
		if git.Auth.Type == "ssh" && git.Auth.SSHKeyPath == "" {
			errs.add("policies.git.auth.ssh_key_path", "is required for ssh auth")
		}
		if git.Clone.Depth < 0 {
			errs.add("policies.git.clone.depth", "must not be negative")
		}
		if git.Poll.Interval < 0 {
			errs.add("policies.git.poll.interval", "must not be negative")
		}
	}

	th := cfg.Thresholds
	if th.Autonomous <= 0 || th.Autonomous > 1 {
		errs.add("policies.thresholds.autonomous", "must be in (0, 1], got %v", th.Autonomous)
	}
	if th.HumanInLoop <= 0 || th.HumanInLoop > th.Autonomous {
		errs.add("policies.thresholds.human_in_loop", "must be in (0, autonomous], got %v", th.HumanInLoop)
	}
}

func validateExecutions(errs *fieldErrors, cfg *ExecutionsConfig) {
	if cfg.AsyncBuffer < 0 {
		errs.add("executions.async_buffer", "must not be negative")
	}
	r := &cfg.Retention
	if r.Days < 0 {
		errs.add("executions.retention.days", "must not be negative")
	}
	if r.Days > 0 {
		errs.schedule("executions.retention.schedule", r.Schedule)
		if r.BatchSize < 1 {
			errs.add("executions.retention.batch_size", "must be at least 1")
		}
	}
}

func validateStorage(errs *fieldErrors, cfg *StorageConfig) {
	errs.oneOf("storage.backend", cfg.Backend, "sqlite", "postgres", "memory")

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs.add("storage.sqlite.path", "is required")
		}
		errs.oneOf("storage.sqlite.driver", cfg.SQLite.Driver, "sqlite", "sqlite3")
		if cfg.SQLite.MaxOpenConns < 1 {
			errs.add("storage.sqlite.max_open_conns", "must be at least 1")
		}
	case "postgres":
		pg := &cfg.Postgres
		if pg.Host == "" {
			errs.add("storage.postgres.host", "is required")
		}
		if pg.Port < 1 || pg.Port > 65535 {
			errs.add("storage.postgres.port", "must be between 1 and 65535, got %d", pg.Port)
		}
		if pg.Database == "" {
			errs.add("storage.postgres.database", "is required")
		}
		if pg.User == "" {
			errs.add("storage.postgres.user", "is required")
		}
		errs.oneOf("storage.postgres.ssl_mode", pg.SSLMode, "disable", "require", "verify-ca", "verify-full")
	}
}

func validateLease(errs *fieldErrors, cfg *LeaseConfig, storageBackend string) {
	errs.oneOf("lease.backend", cfg.Backend, "sql", "redis", "memory")
	if cfg.Backend == "sql" && storageBackend == "memory" {
		errs.add("lease.backend", "sql leases need a sql storage backend")
	}
	if cfg.Backend == "redis" && cfg.Redis.Addr == "" {
		errs.add("lease.redis.addr", "is required for the redis backend")
	}
}

func validateViolations(errs *fieldErrors, cfg *ViolationsConfig) {
	validateThresholds(errs, "violations.thresholds", cfg.Thresholds)
	for tenant, th := range cfg.TenantThresholds {
		validateThresholds(errs, "violations.tenant_thresholds."+tenant, th)
	}
	for i, level := range cfg.TrainingFor {
		errs.oneOf(fmt.Sprintf("violations.training_for[%d]", i), level,
			"verbal_warning", "written_warning", "suspension", "termination")
	}
	if cfg.AppealWindow <= 0 {
		errs.add("violations.appeal_window", "must be positive")
	}
	errs.schedule("violations.sweep_schedule", cfg.SweepSchedule)
}

func validateThresholds(errs *fieldErrors, field string, th ThresholdsConfig) {
	if th.Verbal < 1 {
		errs.add(field+".verbal", "must be at least 1")
	}
	if !(th.Verbal < th.Written && th.Written < th.Suspension && th.Suspension < th.Termination) {
		errs.add(field, "must strictly increase: verbal < written < suspension < termination")
	}
}

func validateCompliance(errs *fieldErrors, cfg *ComplianceConfig) {
	errs.schedule("compliance.schedule", cfg.Schedule)
	errs.oneOf("compliance.type", cfg.Type, "daily", "weekly", "monthly")
	if cfg.CorrectiveActionDays < 0 {
		errs.add("compliance.corrective_action_days", "must not be negative")
	}
	if cfg.Concurrency < 1 {
		errs.add("compliance.concurrency", "must be at least 1")
	}
}

func validateFleet(errs *fieldErrors, cfg *FleetConfig) {
	if cfg.FixturePath == "" && cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.add("fleet.base_url", "must be an absolute http(s) URL, got %q", cfg.BaseURL)
		}
	}
	if cfg.Timeout <= 0 {
		errs.add("fleet.timeout", "must be positive")
	}
}

func validateAPI(errs *fieldErrors, cfg *APIConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.ListenAddress == "" {
		errs.add("api.listen_address", "is required when the api is enabled")
	}
	if cfg.MaxBodyBytes < 1 {
		errs.add("api.max_body_bytes", "must be positive")
	}
}

func validateTelemetry(errs *fieldErrors, cfg *TelemetryConfig) {
	errs.oneOf("telemetry.logging.level", cfg.Logging.Level, "debug", "info", "warn", "error")
	errs.oneOf("telemetry.logging.format", cfg.Logging.Format, "json", "text", "console")

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs.add("telemetry.metrics.path", "must start with /")
	}

	tr := &cfg.Tracing
	if tr.Enabled {
		errs.oneOf("telemetry.tracing.sampler", tr.Sampler, "always", "never", "ratio")
		errs.oneOf("telemetry.tracing.exporter", tr.Exporter, "otlp")
		if tr.Endpoint == "" {
			errs.add("telemetry.tracing.endpoint", "is required when tracing is enabled")
		}
	}
	if tr.SampleRatio < 0 || tr.SampleRatio > 1 {
		errs.add("telemetry.tracing.sample_ratio", "must be between 0.0 and 1.0")
	}

	for _, p := range []struct{ field, path string }{
		{"telemetry.health.liveness_path", cfg.Health.LivenessPath},
		{"telemetry.health.readiness_path", cfg.Health.ReadinessPath},
	} {
		if !strings.HasPrefix(p.path, "/") {
			errs.add(p.field, "must start with /")
		}
	}
}
