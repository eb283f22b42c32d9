package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
engine:
  tenant_id: acme
scheduler:
  tick: 10s
  workers: 4
policies:
  dir: ./fleet-policies
  watch: true
storage:
  backend: postgres
  postgres:
    host: db.internal
    user: warden
lease:
  backend: redis
  redis:
    addr: redis.internal:6379
violations:
  auto_advance: false
  tenant_thresholds:
    acme: {verbal: 1, written: 3, suspension: 5, termination: 7}
fleet:
  base_url: https://fleet.example.com/api
telemetry:
  logging:
    level: debug
    format: text
  metrics:
    enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Engine.TenantID != "acme" {
		t.Errorf("engine.tenant_id = %q, want acme", cfg.Engine.TenantID)
	}
	if cfg.Scheduler.Tick != 10*time.Second || cfg.Scheduler.Workers != 4 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.LeaseTTL != DefaultSchedulerLeaseTTL {
		t.Errorf("unset scheduler.lease_ttl = %s, want default", cfg.Scheduler.LeaseTTL)
	}
	if !cfg.Policies.Watch || cfg.Policies.Dir != "./fleet-policies" {
		t.Errorf("policies = %+v", cfg.Policies)
	}
	if cfg.Storage.Backend != "postgres" || cfg.Storage.Postgres.Port != DefaultPostgresPort {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Lease.Backend != "redis" || cfg.Lease.Redis.Prefix != DefaultRedisPrefix {
		t.Errorf("lease = %+v", cfg.Lease)
	}
	if cfg.Violations.AutoAdvance {
		t.Error("explicit auto_advance: false was overridden by the default")
	}
	if got := cfg.Violations.TenantThresholds["acme"].Termination; got != 7 {
		t.Errorf("tenant termination threshold = %d, want 7", got)
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("explicit metrics.enabled: false was overridden by the default")
	}
	if !cfg.API.Enabled {
		t.Error("api.enabled should default to true")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "scheduler: [unclosed\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: mongodb
scheduler:
  workers: -1
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	for _, field := range []string{"storage.backend", "scheduler.workers"} {
		if !verr.Has(field) {
			t.Errorf("expected an error for %s, got %v", field, verr.Errors)
		}
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  sqlite:
    path: ./from-file.db
`)

	t.Setenv("WARDEN_STORAGE_SQLITE_PATH", "/var/lib/warden/warden.db")
	t.Setenv("WARDEN_SCHEDULER_TICK", "45s")
	t.Setenv("WARDEN_SCHEDULER_WORKERS", "16")
	t.Setenv("WARDEN_VIOLATIONS_AUTO_ADVANCE", "false")
	t.Setenv("WARDEN_TELEMETRY_TRACING_SAMPLE_RATIO", "0.5")
	t.Setenv("WARDEN_FLEET_FIXTURE_PATH", "./fleet.yaml")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() failed: %v", err)
	}

	if cfg.Storage.SQLite.Path != "/var/lib/warden/warden.db" {
		t.Errorf("storage.sqlite.path = %q", cfg.Storage.SQLite.Path)
	}
	if cfg.Scheduler.Tick != 45*time.Second {
		t.Errorf("scheduler.tick = %s, want 45s", cfg.Scheduler.Tick)
	}
	if cfg.Scheduler.Workers != 16 {
		t.Errorf("scheduler.workers = %d, want 16", cfg.Scheduler.Workers)
	}
	if cfg.Violations.AutoAdvance {
		t.Error("violations.auto_advance should be false")
	}
	if cfg.Telemetry.Tracing.SampleRatio != 0.5 {
		t.Errorf("sample_ratio = %v, want 0.5", cfg.Telemetry.Tracing.SampleRatio)
	}
	if cfg.Fleet.FixturePath != "./fleet.yaml" {
		t.Errorf("fleet.fixture_path = %q", cfg.Fleet.FixturePath)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("WARDEN_STORAGE_BACKEND", "postgres")
	t.Setenv("WARDEN_STORAGE_POSTGRES_USER", "warden")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() failed: %v", err)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("storage.backend = %q, want postgres", cfg.Storage.Backend)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "WARDEN_SCHEDULER_TICK", "soon"},
		{"bad integer", "WARDEN_SCHEDULER_WORKERS", "many"},
		{"bad boolean", "WARDEN_POLICIES_WATCH", "perhaps"},
		{"bad float", "WARDEN_ACTIONS_RATE_LIMIT", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfigWithEnvOverrides("")
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !verr.Has(tt.key) {
				t.Errorf("expected an error naming %s, got %v", tt.key, verr.Errors)
			}
		})
	}
}
