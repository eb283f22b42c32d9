package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/lease"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/condition"
	"fleetguard/warden/pkg/telemetry/logging"
	"fleetguard/warden/pkg/telemetry/tracing"
)

// job is one (policy, entity) evaluation.
type job struct {
	policy   *policy.Template
	entityID string
	trigger  execution.Trigger
	payload  map[string]interface{}
}

type jobResult struct {
	executionID string
	busy        bool
}

// pass caches snapshots for the duration of one scheduling pass.
type pass struct {
	mu      sync.Mutex
	entries map[fleet.EntityRef]*snapshotEntry
}

type snapshotEntry struct {
	once sync.Once
	snap *fleet.Snapshot
	err  error
}

func newPass() *pass {
	return &pass{entries: make(map[fleet.EntityRef]*snapshotEntry)}
}

func (p *pass) snapshot(ctx context.Context, provider fleet.SnapshotProvider, ref fleet.EntityRef) (*fleet.Snapshot, error) {
	p.mu.Lock()
	entry, ok := p.entries[ref]
	if !ok {
		entry = &snapshotEntry{}
		p.entries[ref] = entry
	}
	p.mu.Unlock()

	entry.once.Do(func() {
		entry.snap, entry.err = provider.GetSnapshot(ctx, ref.Type, ref.ID)
	})
	return entry.snap, entry.err
}

// dispatch runs jobs on the worker pool and returns one result per job.
func (s *Scheduler) dispatch(ctx context.Context, p *pass, jobs []job) []jobResult {
	results := make([]jobResult, len(jobs))

	g := new(errgroup.Group)
	g.SetLimit(s.config.Workers)
	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			id, err := s.evaluate(ctx, p, j)
			switch {
			case errors.Is(err, ErrTargetBusy):
				results[i].busy = true
			case err != nil:
				s.logger.Error("policy evaluation failed",
					"policy_id", j.policy.ID,
					"entity_id", j.entityID,
					"error", err,
				)
			}
			results[i].executionID = id
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// evaluate runs one job under the pair's lease. It returns ErrTargetBusy
// when the pair is held elsewhere or already has a pending execution.
func (s *Scheduler) evaluate(ctx context.Context, p *pass, j job) (string, error) {
	t := j.policy
	ref := fleet.EntityRef{Type: t.Scope.EntityType, ID: j.entityID}

	held, release, err := s.acquire(ctx, t.ID, j.entityID)
	if err != nil {
		return "", err
	}
	if !held {
		return "", ErrTargetBusy
	}
	defer release()

	pending, err := s.recorder.HasPending(ctx, t.ID, j.entityID)
	if err != nil {
		return "", err
	}
	if pending {
		s.logger.Debug("pair has a pending execution, skipping",
			"policy_id", t.ID,
			"entity_id", j.entityID,
		)
		return "", ErrTargetBusy
	}

	e := s.newExecution(t, ref, j.trigger, j.payload)

	snap, err := p.snapshot(ctx, s.snapshots, ref)
	if err != nil {
		// Data integrity problems skip this entity only.
		reason := fmt.Sprintf("snapshot unavailable: %v", err)
		if errors.Is(err, fleet.ErrEntityNotFound) {
			reason = fmt.Sprintf("entity %s no longer exists", ref)
		}
		e.Status = execution.StatusSkipped
		e.StatusReason = reason
		if err := s.recorder.Record(ctx, e); err != nil {
			return "", err
		}
		return e.ID, nil
	}

	e.Snapshot = snap.Attributes
	captured := snap.CapturedAt.UTC()
	if !snap.CapturedAt.IsZero() {
		e.SnapshotAt = &captured
	}
	fillEntityIDs(e)

	if err := s.recorder.Begin(ctx, e); err != nil {
		return "", err
	}
	s.run(ctx, t, e, false)
	return e.ID, nil
}

// acquire takes the pair's lease. The returned release function is safe to
// call after ctx is cancelled.
func (s *Scheduler) acquire(ctx context.Context, policyID, entityID string) (bool, func(), error) {
	key := lease.Key{PolicyID: policyID, EntityID: entityID}
	l, ok, err := s.leases.Acquire(ctx, key, s.config.Owner, s.config.LeaseTTL)
	if err != nil {
		return false, nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		s.metrics.RecordLeaseContention()
		s.logger.Debug("lease held elsewhere, skipping", "policy_id", policyID, "entity_id", entityID)
		return false, nil, nil
	}
	return true, func() {
		if err := s.leases.Release(context.WithoutCancel(ctx), l); err != nil && !errors.Is(err, lease.ErrNotHeld) {
			s.logger.Warn("failed to release lease", "lease", key.String(), "error", err)
		}
	}, nil
}

func (s *Scheduler) newExecution(t *policy.Template, ref fleet.EntityRef, trigger execution.Trigger, payload map[string]interface{}) *execution.Execution {
	return &execution.Execution{
		ID:             uuid.New().String(),
		TenantID:       t.TenantID,
		PolicyID:       t.ID,
		PolicyCode:     t.Code,
		PolicyVersion:  t.Version,
		Trigger:        trigger,
		TriggerPayload: payload,
		Entity:         ref,
		Mode:           t.Mode,
		StartedAt:      s.now().UTC(),
	}
}

// fillEntityIDs copies the related entity ids the action context derives
// from the target and its snapshot.
func fillEntityIDs(e *execution.Execution) {
	actx := action.NewContext(e.TenantID, e.PolicyID, e.PolicyCode, e.ID, e.Entity, e.Snapshot)
	e.VehicleID = actx.VehicleID
	e.DriverID = actx.DriverID
	e.WorkOrderID = actx.WorkOrderID
}

// run evaluates conditions against the execution's stored snapshot,
// applies the enforcement mode and finalizes the record. approved runs
// dispatch actions regardless of mode.
func (s *Scheduler) run(ctx context.Context, t *policy.Template, e *execution.Execution, approved bool) {
	ctx, span := s.tracer.Start(ctx, "policy.execution",
		trace.WithAttributes(tracing.PolicyAttributes(t.ID, t.Code)...),
		trace.WithAttributes(tracing.ExecutionAttributes(e.ID, string(e.Trigger), string(e.Entity.Type), e.Entity.ID)...),
	)
	defer span.End()

	ctx = logging.WithTenant(ctx, e.TenantID)
	ctx = logging.WithExecution(ctx, e.ID, t.Code)
	ctx = logging.WithEntity(ctx, e.Entity.String())

	ctx, cancel := context.WithTimeout(ctx, s.config.ExecutionTimeout)
	defer cancel()

	e.Matched, e.ConditionTrace = condition.Evaluate(t.Conditions, e.Snapshot)
	for _, leaf := range e.ConditionTrace {
		if leaf.Invalid() {
			s.logger.WarnContext(ctx, "invalid condition leaf",
				"path", leaf.Path,
				"reason", leaf.Reason,
			)
		}
	}

	mode := t.Mode
	if approved {
		mode = policy.ModeAutonomous
	}

	switch {
	case !e.Matched:
		e.Status = execution.StatusSkippedConditionsNotMet

	case mode == policy.ModeMonitor:
		e.ActionResults = action.Skip(t.Actions, "monitor mode").Results
		e.Status = execution.StatusCompleted
		e.StatusReason = "monitor mode"

	case mode == policy.ModeHumanInLoop:
		e.ActionResults = action.Skip(t.Actions, "awaiting approval").Results
		e.Status = execution.StatusAwaitingApproval

	default:
		actx := action.NewContext(e.TenantID, e.PolicyID, e.PolicyCode, e.ID, e.Entity, e.Snapshot)
		outcome := s.executor.Execute(ctx, t.Actions, actx)
		e.ActionResults = outcome.Results
		e.WorkOrderID = actx.WorkOrderID
		if outcome.Failed() {
			s.logger.WarnContext(ctx, "action sequence aborted", "reason", outcome.AbortReason)
			e.Status = execution.StatusFailed
			e.StatusReason = outcome.AbortReason
		} else {
			e.Status = execution.StatusCompleted
		}
	}

	span.SetAttributes(
		attribute.Bool(tracing.AttrExecutionMatched, e.Matched),
		attribute.String(tracing.AttrExecutionStatus, string(e.Status)),
	)
	if e.Status == execution.StatusFailed {
		span.SetStatus(codes.Error, e.StatusReason)
	}

	if err := s.recorder.Finalize(ctx, e); err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "failed to finalize execution", "error", err)
	}
}
