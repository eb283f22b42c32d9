package config

import (
	"reflect"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := newConfig()
	ApplyDefaults(cfg)

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"engine.tenant_id", cfg.Engine.TenantID, DefaultTenantID},
		{"scheduler.tick", cfg.Scheduler.Tick, DefaultSchedulerTick},
		{"scheduler.workers", cfg.Scheduler.Workers, DefaultSchedulerWorkers},
		{"scheduler.lease_ttl", cfg.Scheduler.LeaseTTL, DefaultSchedulerLeaseTTL},
		{"scheduler.pending_grace", cfg.Scheduler.PendingGrace, DefaultSchedulerPendingGrace},
		{"actions.max_attempts", cfg.Actions.MaxAttempts, DefaultActionMaxAttempts},
		{"actions.backoff_base", cfg.Actions.BackoffBase, DefaultActionBackoffBase},
		{"policies.source", cfg.Policies.Source, DefaultPolicySource},
		{"policies.dir", cfg.Policies.Dir, DefaultPolicyDir},
		{"policies.thresholds.autonomous", cfg.Policies.Thresholds.Autonomous, DefaultAutonomousThreshold},
		{"policies.git.branch", cfg.Policies.Git.Branch, DefaultPolicyGitBranch},
		{"policies.git.clone.depth", cfg.Policies.Git.Clone.Depth, DefaultPolicyGitDepth},
		{"executions.retention.days", cfg.Executions.Retention.Days, 0},
		{"executions.retention.schedule", cfg.Executions.Retention.Schedule, DefaultRetentionSchedule},
		{"storage.backend", cfg.Storage.Backend, DefaultStorageBackend},
		{"storage.sqlite.driver", cfg.Storage.SQLite.Driver, DefaultSQLiteDriver},
		{"storage.sqlite.wal_mode", cfg.Storage.SQLite.WALMode, true},
		{"storage.postgres.port", cfg.Storage.Postgres.Port, DefaultPostgresPort},
		{"lease.backend", cfg.Lease.Backend, DefaultLeaseBackend},
		{"lease.redis.prefix", cfg.Lease.Redis.Prefix, DefaultRedisPrefix},
		{"violations.appeal_window", cfg.Violations.AppealWindow, DefaultAppealWindow},
		{"violations.auto_advance", cfg.Violations.AutoAdvance, true},
		{"violations.thresholds.termination", cfg.Violations.Thresholds.Termination, DefaultTermination},
		{"violations.training_for", cfg.Violations.TrainingFor, DefaultTrainingFor},
		{"compliance.type", cfg.Compliance.Type, DefaultComplianceType},
		{"compliance.corrective_action_days", cfg.Compliance.CorrectiveActionDays, DefaultCorrectiveActionDays},
		{"fleet.timeout", cfg.Fleet.Timeout, DefaultFleetTimeout},
		{"api.enabled", cfg.API.Enabled, true},
		{"api.listen_address", cfg.API.ListenAddress, DefaultListenAddress},
		{"telemetry.logging.level", cfg.Telemetry.Logging.Level, DefaultLogLevel},
		{"telemetry.metrics.enabled", cfg.Telemetry.Metrics.Enabled, true},
		{"telemetry.metrics.namespace", cfg.Telemetry.Metrics.Namespace, DefaultMetricsNamespace},
		{"telemetry.tracing.enabled", cfg.Telemetry.Tracing.Enabled, false},
		{"telemetry.tracing.sample_ratio", cfg.Telemetry.Tracing.SampleRatio, DefaultTracingRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.want) {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}

	if cfg.Engine.InstanceID == "" {
		t.Error("engine.instance_id should default to the hostname or warden")
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := newConfig()
	cfg.Scheduler.Workers = 2
	cfg.Actions.BackoffBase = time.Second
	cfg.Violations.TrainingFor = []string{}
	cfg.Violations.Thresholds = ThresholdsConfig{Verbal: 2, Written: 3, Suspension: 5, Termination: 8}

	ApplyDefaults(cfg)

	if cfg.Scheduler.Workers != 2 {
		t.Errorf("scheduler.workers = %d, want 2", cfg.Scheduler.Workers)
	}
	if cfg.Actions.BackoffBase != time.Second {
		t.Errorf("actions.backoff_base = %s, want 1s", cfg.Actions.BackoffBase)
	}
	if len(cfg.Violations.TrainingFor) != 0 {
		t.Errorf("an explicit empty training_for should stay empty, got %v", cfg.Violations.TrainingFor)
	}
	if cfg.Violations.Thresholds.Termination != 8 {
		t.Errorf("thresholds overwritten: %+v", cfg.Violations.Thresholds)
	}
}

func TestApplyDefaults_MemoryStorageUsesMemoryLeases(t *testing.T) {
	cfg := newConfig()
	cfg.Storage.Backend = "memory"
	ApplyDefaults(cfg)

	if cfg.Lease.Backend != "memory" {
		t.Errorf("lease.backend = %q, want memory", cfg.Lease.Backend)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg1 := Default()
	cfg2 := Default()
	ApplyDefaults(cfg2)

	if !reflect.DeepEqual(cfg1, cfg2) {
		t.Error("ApplyDefaults is not idempotent")
	}
}
