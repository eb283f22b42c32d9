package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/execution/recorder"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/lease"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/registry"
	"fleetguard/warden/pkg/telemetry/metrics"
)

// Scheduler runs policies.
type Scheduler struct {
	registry  *registry.Registry
	snapshots fleet.SnapshotProvider
	executor  *action.Executor
	recorder  *recorder.Recorder
	leases    lease.Store
	config    *Config

	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a scheduler.
func New(
	reg *registry.Registry,
	snapshots fleet.SnapshotProvider,
	executor *action.Executor,
	rec *recorder.Recorder,
	leases lease.Store,
	cfg *Config,
) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Scheduler{
		registry:  reg,
		snapshots: snapshots,
		executor:  executor,
		recorder:  rec,
		leases:    leases,
		config:    cfg,
		tracer:    otel.Tracer("fleetguard/warden/scheduler"),
		logger:    slog.Default().With("component", "scheduler"),
		now:       time.Now,
	}
}

// SetMetrics attaches a metrics collector.
func (s *Scheduler) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

// SetClock overrides the scheduler's time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// PassStats summarizes one scheduling pass.
type PassStats struct {
	Policies   int
	Executions []string
	Busy       int
}

// RunDue evaluates every due policy against its population and advances
// each policy's next execution time, whether or not its conditions matched.
func (s *Scheduler) RunDue(ctx context.Context) (*PassStats, error) {
	start := s.now()
	due, err := s.registry.Due(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("compute due set: %w", err)
	}
	s.metrics.SetDuePolicies(len(due))

	stats := &PassStats{Policies: len(due)}
	if len(due) == 0 {
		return stats, nil
	}

	p := newPass()
	var jobs []job
	for _, t := range due {
		ids, err := s.snapshots.ListTargets(ctx, t.Scope)
		if err != nil {
			s.logger.Error("failed to list policy targets",
				"policy_id", t.ID,
				"policy_code", t.Code,
				"error", err,
			)
			continue
		}
		for _, id := range ids {
			jobs = append(jobs, job{policy: t, entityID: id, trigger: execution.TriggerSchedule})
		}
	}

	results := s.dispatch(ctx, p, jobs)
	for _, r := range results {
		switch {
		case r.executionID != "":
			stats.Executions = append(stats.Executions, r.executionID)
		case r.busy:
			stats.Busy++
		}
	}

	finished := s.now()
	for _, t := range due {
		if err := s.registry.RecordRun(ctx, t, finished); err != nil {
			s.logger.Error("failed to record policy run",
				"policy_id", t.ID,
				"error", err,
			)
		}
	}

	s.logger.Info("scheduling pass complete",
		"policies", stats.Policies,
		"executions", len(stats.Executions),
		"busy", stats.Busy,
		"duration_ms", finished.Sub(start).Milliseconds(),
	)
	return stats, nil
}

// Start runs recovery once and then schedules the due-set tick and
// periodic recovery. Ticks that overrun are skipped, never stacked.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already running")
	}
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid scheduler config: %w", err)
	}

	if _, err := s.Recover(ctx); err != nil {
		s.logger.Error("startup recovery failed", "error", err)
	}

	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.config.Tick), func() {
		if _, err := s.RunDue(ctx); err != nil {
			s.logger.Error("scheduling pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	if s.config.RecoveryInterval > 0 {
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.config.RecoveryInterval), func() {
			if _, err := s.Recover(ctx); err != nil {
				s.logger.Error("recovery failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule recovery: %w", err)
		}
	}

	c.Start()
	s.cron = c

	s.logger.Info("scheduler started",
		"tick", s.config.Tick,
		"workers", s.config.Workers,
		"lease_ttl", s.config.LeaseTTL,
	)
	return nil
}

// Stop stops scheduling and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info("scheduler stopped")
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
