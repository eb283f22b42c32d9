package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/condition"
	"fleetguard/warden/pkg/telemetry/metrics"
	"fleetguard/warden/pkg/telemetry/tracing"
)

// PolicySource resolves the policies to audit.
type PolicySource interface {
	Get(ctx context.Context, id string) (*policy.Template, error)
	List(ctx context.Context, filter policy.ListFilter) ([]*policy.Template, error)
}

// Config configures the auditor.
type Config struct {
	// Schedule is the cron spec for auditing every active policy. Empty
	// disables scheduled audits.
	Schedule string

	// Type is the window type used by scheduled audits.
	Type AuditType

	// CorrectiveActionDays sets the corrective action due date when an
	// audit has findings.
	CorrectiveActionDays int

	// Concurrency bounds parallel snapshot reads within one audit.
	Concurrency int

	// OnlyTouched limits scheduled audits to policies that produced an
	// execution since the previous scheduled audit.
	OnlyTouched bool
}

// DefaultConfig returns the default auditor configuration.
func DefaultConfig() *Config {
	return &Config{
		Schedule:             "0 2 * * *",
		Type:                 AuditDaily,
		CorrectiveActionDays: 14,
		Concurrency:          8,
	}
}

// Auditor runs compliance audits.
type Auditor struct {
	policies  PolicySource
	snapshots fleet.SnapshotProvider
	store     Storage
	config    *Config
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time

	touchedMu sync.Mutex
	touched   map[string]struct{}

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewAuditor creates an auditor.
func NewAuditor(policies PolicySource, snapshots fleet.SnapshotProvider, store Storage, cfg *Config) *Auditor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if !cfg.Type.Valid() {
		cfg.Type = AuditDaily
	}
	return &Auditor{
		policies:  policies,
		snapshots: snapshots,
		store:     store,
		config:    cfg,
		tracer:    otel.Tracer("fleetguard/warden/compliance"),
		logger:    slog.Default().With("component", "compliance.auditor"),
		now:       time.Now,
		touched:   make(map[string]struct{}),
	}
}

// SetMetrics attaches a metrics collector.
func (a *Auditor) SetMetrics(m *metrics.Collector) {
	a.metrics = m
}

// SetClock overrides the auditor's time source.
func (a *Auditor) SetClock(now func() time.Time) {
	a.now = now
}

type classification struct {
	ref       fleet.EntityRef
	skipped   bool
	compliant bool
	trace     []condition.LeafResult
}

// Audit scores one policy for the window of typ containing now and stores
// the result, overwriting an earlier audit of the same window.
func (a *Auditor) Audit(ctx context.Context, policyID string, typ AuditType) (*Audit, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown audit type %q", typ)
	}
	p, err := a.policies.Get(ctx, policyID)
	if err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "compliance.audit", trace.WithAttributes(
		attribute.String(tracing.AttrPolicyID, p.ID),
		attribute.String(tracing.AttrPolicyCode, p.Code),
		attribute.String(tracing.AttrAuditType, string(typ)),
	))
	defer span.End()

	ids, err := a.snapshots.ListTargets(ctx, p.Scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list targets")
		return nil, fmt.Errorf("list targets for %s: %w", p.Code, err)
	}

	results := make([]classification, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = a.classify(gctx, p, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	audit := &Audit{
		ID:            uuid.New().String(),
		TenantID:      p.TenantID,
		PolicyID:      p.ID,
		PolicyCode:    p.Code,
		PolicyVersion: p.Version,
		Type:          typ,
		WindowKey:     WindowKey(typ, now),
		AuditDate:     now,
		Findings:      []Finding{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, r := range results {
		switch {
		case r.skipped:
			audit.Skipped++
		case r.compliant:
			audit.Compliant++
		default:
			audit.NonCompliant++
			audit.Findings = append(audit.Findings, Finding{Entity: r.ref, Trace: r.trace})
		}
	}
	sort.Slice(audit.Findings, func(i, j int) bool {
		return audit.Findings[i].Entity.ID < audit.Findings[j].Entity.ID
	})
	audit.Evaluated = audit.Compliant + audit.NonCompliant
	audit.Score = Score(audit.Compliant, audit.NonCompliant)
	if len(audit.Findings) > 0 && a.config.CorrectiveActionDays > 0 {
		due := now.AddDate(0, 0, a.config.CorrectiveActionDays)
		audit.CorrectiveActionDue = &due
	}

	if err := a.store.Upsert(ctx, audit); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store audit")
		return nil, err
	}

	status := "compliant"
	if audit.NonCompliant > 0 {
		status = "non_compliant"
	}
	a.metrics.RecordComplianceAudit(p.Code, status, audit.Score)
	span.SetAttributes(
		attribute.Int(tracing.AttrAuditEvaluated, audit.Evaluated),
		attribute.Float64(tracing.AttrAuditScore, audit.Score),
	)

	a.logger.Info("compliance audit recorded",
		"policy_code", p.Code,
		"window", audit.WindowKey,
		"evaluated", audit.Evaluated,
		"skipped", audit.Skipped,
		"score", audit.Score,
		"findings", len(audit.Findings),
	)
	return audit, nil
}

func (a *Auditor) classify(ctx context.Context, p *policy.Template, id string) classification {
	ref := fleet.EntityRef{Type: p.Scope.EntityType, ID: id}
	snap, err := a.snapshots.GetSnapshot(ctx, p.Scope.EntityType, id)
	if err != nil {
		if !errors.Is(err, fleet.ErrEntityNotFound) {
			a.logger.Warn("snapshot unavailable, entity skipped",
				"policy_code", p.Code,
				"entity_id", id,
				"error", err,
			)
		}
		return classification{ref: ref, skipped: true}
	}
	matched, trace := condition.Evaluate(p.Conditions, snap.Attributes)
	return classification{ref: ref, compliant: matched, trace: trace}
}

// AuditAll audits every active policy, or only the touched ones when
// configured. It returns the number of audits stored. Individual failures
// are logged and do not stop the run.
func (a *Auditor) AuditAll(ctx context.Context, typ AuditType) (int, error) {
	active, err := a.policies.List(ctx, policy.ListFilter{Status: policy.StatusActive})
	if err != nil {
		return 0, err
	}

	var touched map[string]struct{}
	if a.config.OnlyTouched {
		touched = a.drainTouched()
	}

	done := 0
	for _, p := range active {
		if touched != nil {
			if _, ok := touched[p.ID]; !ok {
				continue
			}
		}
		if _, err := a.Audit(ctx, p.ID, typ); err != nil {
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			a.logger.Error("compliance audit failed", "policy_code", p.Code, "error", err)
			continue
		}
		done++
	}
	return done, nil
}

// Latest returns the most recent audit of a policy.
func (a *Auditor) Latest(ctx context.Context, policyID string) (*Audit, error) {
	return a.store.Latest(ctx, policyID)
}

// History returns a policy's audits, newest first.
func (a *Auditor) History(ctx context.Context, policyID string, limit int) ([]*Audit, error) {
	return a.store.List(ctx, policyID, limit)
}

// OnExecution marks the execution's policy as touched.
func (a *Auditor) OnExecution(_ context.Context, e *execution.Execution) {
	a.touchedMu.Lock()
	a.touched[e.PolicyID] = struct{}{}
	a.touchedMu.Unlock()
}

func (a *Auditor) drainTouched() map[string]struct{} {
	a.touchedMu.Lock()
	defer a.touchedMu.Unlock()
	out := a.touched
	a.touched = make(map[string]struct{})
	return out
}

// Start schedules audits of all active policies.
func (a *Auditor) Start(ctx context.Context) error {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()

	if a.cron != nil {
		return fmt.Errorf("compliance scheduler already running")
	}
	if a.config.Schedule == "" {
		a.logger.Info("audit schedule not configured, skipping scheduler")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(a.config.Schedule, func() {
		n, err := a.AuditAll(ctx, a.config.Type)
		if err != nil {
			a.logger.Error("scheduled compliance run failed", "error", err)
			return
		}
		a.logger.Info("scheduled compliance run complete", "audits", n)
	}); err != nil {
		return fmt.Errorf("invalid audit schedule %q: %w", a.config.Schedule, err)
	}

	c.Start()
	a.cron = c
	a.logger.Info("compliance scheduler started", "schedule", a.config.Schedule, "type", a.config.Type)
	return nil
}

// Stop stops scheduled audits and waits for a running one to finish.
func (a *Auditor) Stop() {
	a.cronMu.Lock()
	c := a.cron
	a.cron = nil
	a.cronMu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
