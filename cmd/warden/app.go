package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fleetguard/warden/pkg/cli"
	"fleetguard/warden/pkg/compliance"
	"fleetguard/warden/pkg/config"
	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/execution/recorder"
	"fleetguard/warden/pkg/execution/retention"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/fleet/httpapi"
	"fleetguard/warden/pkg/fleet/static"
	"fleetguard/warden/pkg/lease"
	redislease "fleetguard/warden/pkg/lease/redis"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/registry"
	"fleetguard/warden/pkg/policy/source"
	"fleetguard/warden/pkg/scheduler"
	"fleetguard/warden/pkg/storage/memory"
	"fleetguard/warden/pkg/storage/sqlstore"
	"fleetguard/warden/pkg/telemetry/health"
	"fleetguard/warden/pkg/telemetry/logging"
	"fleetguard/warden/pkg/telemetry/metrics"
	"fleetguard/warden/pkg/telemetry/tracing"
	"fleetguard/warden/pkg/violation"
)

// errNoFleet is returned by commands that evaluate policies when neither
// fleet.fixture_path nor fleet.base_url is configured.
var errNoFleet = errors.New("no fleet collaborator configured: set fleet.fixture_path or fleet.base_url")

// app holds every component of one engine process. Commands build it with
// newApp and release it with Close.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	tracer  *tracing.Tracer
	metrics *metrics.Collector
	prom    *prometheus.Registry
	health  *health.Checker

	sql   *sqlstore.Store
	redis *redislease.Store

	policies   policy.Storage
	executions execution.Storage
	violStore  violation.Storage
	audits     compliance.Storage
	leases     lease.Store

	snapshots fleet.SnapshotProvider
	actions   *action.Registry
	executor  *action.Executor
	registry  *registry.Registry
	syncer    *source.Syncer
	recorder  *recorder.Recorder
	scheduler *scheduler.Scheduler
	violation *violation.Manager
	auditor   *compliance.Auditor
	pruner    *retention.Pruner

	schedulerUp atomic.Bool
	closers     []func() error
}

// newApp builds the engine from cfg. Nothing is started; run starts the
// background loops while one-shot commands call components directly.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	a := &app{cfg: cfg}

	logger, err := logging.Setup(&cfg.Telemetry.Logging, logOut)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	a.logger = logger

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer

	a.prom = prometheus.NewRegistry()
	a.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, a.prom)
	a.health = health.New(cfg.Telemetry.Health.CheckTimeout)

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openLeases(ctx); err != nil {
		a.Close()
		return nil, err
	}

	collaborators, err := a.openFleet()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.actions = action.NewRegistry(collaborators)
	a.executor = action.NewExecutor(a.actions, actionConfig(cfg))
	a.executor.SetMetrics(a.metrics)

	thresholds := modeThresholds(cfg)
	a.registry = registry.New(a.policies, a.actions, &registry.Config{
		TenantID:   cfg.Engine.TenantID,
		Thresholds: thresholds,
	})
	a.syncer = source.NewSyncer(a.registry, &source.SyncConfig{
		Dir:        cfg.Policies.Dir,
		TenantID:   cfg.Engine.TenantID,
		Thresholds: thresholds,
		Loader:     source.DefaultLoaderConfig(),
	})

	a.recorder = recorder.NewRecorder(a.executions, &recorder.Config{
		Owner:        cfg.Engine.InstanceID,
		AsyncBuffer:  cfg.Executions.AsyncBuffer,
		WriteTimeout: cfg.Executions.WriteTimeout,
	})
	a.recorder.SetMetrics(a.metrics)

	a.scheduler = scheduler.New(a.registry, a.snapshots, a.executor, a.recorder, a.leases, schedulerConfig(cfg))
	a.scheduler.SetMetrics(a.metrics)

	a.violation = violation.NewManager(a.violStore, violationConfig(cfg))
	a.violation.SetMetrics(a.metrics)
	a.recorder.Subscribe(a.violation)

	a.auditor = compliance.NewAuditor(a.registry, a.snapshots, a.audits, &compliance.Config{
		Schedule:             cfg.Compliance.Schedule,
		Type:                 compliance.AuditType(cfg.Compliance.Type),
		CorrectiveActionDays: cfg.Compliance.CorrectiveActionDays,
		Concurrency:          cfg.Compliance.Concurrency,
		OnlyTouched:          cfg.Compliance.OnlyTouched,
	})
	a.auditor.SetMetrics(a.metrics)
	a.recorder.Subscribe(a.auditor)

	a.pruner = retention.NewPruner(a.executions, &retention.Config{
		Days:        cfg.Executions.Retention.Days,
		Schedule:    cfg.Executions.Retention.Schedule,
		BatchSize:   cfg.Executions.Retention.BatchSize,
		ArchivePath: cfg.Executions.Retention.ArchivePath,
	})

	a.health.RegisterCheck("scheduler", health.Flag("scheduler", a.schedulerUp.Load))
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	cfg := &a.cfg.Storage
	if cfg.Backend == "memory" {
		store := memory.New()
		a.policies = store.Policies
		a.executions = store.Executions
		a.violStore = store.Violations
		a.audits = store.Audits
		a.leases = store.Leases
		a.closers = append(a.closers, store.Close)
		return nil
	}

	store, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Backend, err)
	}
	a.sql = store
	a.policies = store.Policies
	a.executions = store.Executions
	a.violStore = store.Violations
	a.audits = store.Audits
	a.closers = append(a.closers, store.Close)
	a.health.RegisterCheck("storage", store.Ping)
	return nil
}

func (a *app) openLeases(ctx context.Context) error {
	cfg := &a.cfg.Lease
	switch cfg.Backend {
	case "sql":
		if a.sql == nil {
			return cli.NewConfigError("lease.backend", "sql leases need a sql storage backend")
		}
		a.leases = a.sql.Leases
	case "redis":
		store := redislease.NewStore(redislease.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.redis = store
		a.leases = store
		a.closers = append(a.closers, store.Close)
		a.health.RegisterCheck("leases", store.Ping)
	case "memory":
		if a.leases == nil {
			a.leases = memory.NewLeaseStore()
		}
	default:
		return cli.NewConfigError("lease.backend", fmt.Sprintf("unsupported backend %q", cfg.Backend))
	}
	return nil
}

// openFleet connects the snapshot provider and action collaborators. A
// fixture file wins over the REST API. With neither configured the
// collaborators are empty and commands that evaluate policies refuse to run.
func (a *app) openFleet() (fleet.Collaborators, error) {
	cfg := &a.cfg.Fleet
	switch {
	case cfg.FixturePath != "":
		dir, err := static.LoadFile(cfg.FixturePath)
		if err != nil {
			return fleet.Collaborators{}, fmt.Errorf("failed to load fleet fixture: %w", err)
		}
		a.snapshots = dir
		return dir.Collaborators(), nil
	case cfg.BaseURL != "":
		client, err := httpapi.New(&httpapi.Config{
			BaseURL:             cfg.BaseURL,
			APIKey:              cfg.APIKey,
			Timeout:             cfg.Timeout,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConns,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		})
		if err != nil {
			return fleet.Collaborators{}, err
		}
		a.snapshots = client
		return client.Collaborators(), nil
	default:
		return fleet.Collaborators{}, nil
	}
}

// requireFleet fails when policies cannot be evaluated.
func (a *app) requireFleet() error {
	if a.snapshots == nil {
		return errNoFleet
	}
	return nil
}

// versionInfo describes this build for /version.
func versionInfo() health.VersionInfo {
	return health.VersionInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// Close flushes the recorder, closes stores and flushes spans. It is safe
// to call on a partially built app.
func (a *app) Close() error {
	var errs []error
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.API.ShutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	if len(errs) > 0 {
		slog.Default().Warn("shutdown finished with errors", "errors", len(errs))
	}
	return errors.Join(errs...)
}

func actionConfig(cfg *config.Config) *action.Config {
	return &action.Config{
		ActionTimeout: cfg.Actions.Timeout,
		MaxAttempts:   cfg.Actions.MaxAttempts,
		BackoffBase:   cfg.Actions.BackoffBase,
		BackoffMax:    cfg.Actions.BackoffMax,
		RateLimit:     cfg.Actions.RateLimit,
		Burst:         cfg.Actions.Burst,
	}
}

func schedulerConfig(cfg *config.Config) *scheduler.Config {
	return &scheduler.Config{
		Owner:            cfg.Engine.InstanceID,
		Tick:             cfg.Scheduler.Tick,
		Workers:          cfg.Scheduler.Workers,
		LeaseTTL:         cfg.Scheduler.LeaseTTL,
		ExecutionTimeout: cfg.Scheduler.ExecutionTimeout,
		PendingGrace:     cfg.Scheduler.PendingGrace,
		RecoveryInterval: cfg.Scheduler.RecoveryInterval,
	}
}

func modeThresholds(cfg *config.Config) policy.ModeThresholds {
	return policy.ModeThresholds{
		Autonomous:  cfg.Policies.Thresholds.Autonomous,
		HumanInLoop: cfg.Policies.Thresholds.HumanInLoop,
	}
}

func violationConfig(cfg *config.Config) *violation.Config {
	vc := &violation.Config{
		Thresholds:    disciplineThresholds(cfg.Violations.Thresholds),
		AppealWindow:  cfg.Violations.AppealWindow,
		AutoAdvance:   cfg.Violations.AutoAdvance,
		SweepSchedule: cfg.Violations.SweepSchedule,
		SystemActor:   cfg.Violations.SystemActor,
	}
	if len(cfg.Violations.TenantThresholds) > 0 {
		vc.TenantThresholds = make(map[string]violation.Thresholds, len(cfg.Violations.TenantThresholds))
		for tenant, th := range cfg.Violations.TenantThresholds {
			vc.TenantThresholds[tenant] = disciplineThresholds(th)
		}
	}
	for _, level := range cfg.Violations.TrainingFor {
		vc.TrainingFor = append(vc.TrainingFor, violation.Discipline(level))
	}
	return vc
}

func disciplineThresholds(th config.ThresholdsConfig) violation.Thresholds {
	return violation.Thresholds{
		Verbal:      th.Verbal,
		Written:     th.Written,
		Suspension:  th.Suspension,
		Termination: th.Termination,
	}
}
