package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "WARDEN_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides named WARDEN_SECTION_FIELD
// (e.g. WARDEN_STORAGE_BACKEND). Environment variables always take
// precedence over the file. An empty path loads defaults plus overrides.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envOverrides reads WARDEN_* variables. Malformed values are collected
// rather than silently ignored.
type envOverrides struct {
	errs []FieldError
}

func (o *envOverrides) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(val) == "" {
		return "", false
	}
	return strings.TrimSpace(val), true
}

func (o *envOverrides) fail(name, val, kind string) {
	o.errs = append(o.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("invalid %s %q", kind, val),
	})
}

func (o *envOverrides) str(name string, dst *string) {
	if val, ok := o.lookup(name); ok {
		*dst = val
	}
}

func (o *envOverrides) integer(name string, dst *int) {
	if val, ok := o.lookup(name); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			o.fail(name, val, "integer")
			return
		}
		*dst = i
	}
}

func (o *envOverrides) float(name string, dst *float64) {
	if val, ok := o.lookup(name); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			o.fail(name, val, "number")
			return
		}
		*dst = f
	}
}

func (o *envOverrides) boolean(name string, dst *bool) {
	if val, ok := o.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			o.fail(name, val, "boolean")
			return
		}
		*dst = b
	}
}

func (o *envOverrides) duration(name string, dst *time.Duration) {
	if val, ok := o.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			o.fail(name, val, "duration")
			return
		}
		*dst = d
	}
}

// applyEnvOverrides applies WARDEN_* environment variables to cfg.
func applyEnvOverrides(cfg *Config) error {
	o := &envOverrides{}

	o.str("ENGINE_TENANT_ID", &cfg.Engine.TenantID)
	o.str("ENGINE_INSTANCE_ID", &cfg.Engine.InstanceID)

	o.duration("SCHEDULER_TICK", &cfg.Scheduler.Tick)
	o.integer("SCHEDULER_WORKERS", &cfg.Scheduler.Workers)
	o.duration("SCHEDULER_LEASE_TTL", &cfg.Scheduler.LeaseTTL)
	o.duration("SCHEDULER_EXECUTION_TIMEOUT", &cfg.Scheduler.ExecutionTimeout)
	o.duration("SCHEDULER_PENDING_GRACE", &cfg.Scheduler.PendingGrace)

	o.duration("ACTIONS_TIMEOUT", &cfg.Actions.Timeout)
	o.integer("ACTIONS_MAX_ATTEMPTS", &cfg.Actions.MaxAttempts)
	o.float("ACTIONS_RATE_LIMIT", &cfg.Actions.RateLimit)

	o.str("POLICIES_SOURCE", &cfg.Policies.Source)
	o.str("POLICIES_DIR", &cfg.Policies.Dir)
	o.boolean("POLICIES_WATCH", &cfg.Policies.Watch)
	o.str("POLICIES_GIT_REPOSITORY", &cfg.Policies.Git.Repository)
	o.str("POLICIES_GIT_BRANCH", &cfg.Policies.Git.Branch)
	o.str("POLICIES_GIT_TOKEN", &cfg.Policies.Git.Auth.Token)

	o.integer("EXECUTIONS_RETENTION_DAYS", &cfg.Executions.Retention.Days)
	o.str("EXECUTIONS_RETENTION_ARCHIVE_PATH", &cfg.Executions.Retention.ArchivePath)

	o.str("STORAGE_BACKEND", &cfg.Storage.Backend)
	o.str("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	o.str("STORAGE_SQLITE_DRIVER", &cfg.Storage.SQLite.Driver)
	o.str("STORAGE_POSTGRES_HOST", &cfg.Storage.Postgres.Host)
	o.integer("STORAGE_POSTGRES_PORT", &cfg.Storage.Postgres.Port)
	o.str("STORAGE_POSTGRES_DATABASE", &cfg.Storage.Postgres.Database)
	o.str("STORAGE_POSTGRES_USER", &cfg.Storage.Postgres.User)
	o.str("STORAGE_POSTGRES_PASSWORD", &cfg.Storage.Postgres.Password)
	o.str("STORAGE_POSTGRES_SSL_MODE", &cfg.Storage.Postgres.SSLMode)

	o.str("LEASE_BACKEND", &cfg.Lease.Backend)
	o.str("LEASE_REDIS_ADDR", &cfg.Lease.Redis.Addr)
	o.str("LEASE_REDIS_PASSWORD", &cfg.Lease.Redis.Password)
	o.integer("LEASE_REDIS_DB", &cfg.Lease.Redis.DB)

	o.duration("VIOLATIONS_APPEAL_WINDOW", &cfg.Violations.AppealWindow)
	o.boolean("VIOLATIONS_AUTO_ADVANCE", &cfg.Violations.AutoAdvance)

	o.str("COMPLIANCE_SCHEDULE", &cfg.Compliance.Schedule)
	o.integer("COMPLIANCE_CORRECTIVE_ACTION_DAYS", &cfg.Compliance.CorrectiveActionDays)

	o.str("FLEET_FIXTURE_PATH", &cfg.Fleet.FixturePath)
	o.str("FLEET_BASE_URL", &cfg.Fleet.BaseURL)
	o.str("FLEET_API_KEY", &cfg.Fleet.APIKey)
	o.duration("FLEET_TIMEOUT", &cfg.Fleet.Timeout)

	o.boolean("API_ENABLED", &cfg.API.Enabled)
	o.str("API_LISTEN_ADDRESS", &cfg.API.ListenAddress)

	o.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	o.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	o.boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	o.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	o.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	o.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	if len(o.errs) > 0 {
		return ValidationError{Errors: o.errs}
	}
	return nil
}
