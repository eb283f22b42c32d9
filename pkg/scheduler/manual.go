package scheduler

import (
	"context"
	"errors"
	"fmt"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/execution/recorder"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy"
)

// RunNow evaluates a policy immediately, bypassing its schedule but not the
// per-pair lease. With an empty entityID the whole scope is evaluated and
// busy pairs are skipped; a single busy entity returns ErrTargetBusy.
func (s *Scheduler) RunNow(ctx context.Context, policyID, entityID string) ([]string, error) {
	t, err := s.registry.Get(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if !t.Runnable(s.now()) {
		return nil, fmt.Errorf("%w: %s v%d is %s", ErrNotRunnable, t.Code, t.Version, describe(t))
	}

	if entityID != "" {
		id, err := s.evaluate(ctx, newPass(), job{policy: t, entityID: entityID, trigger: execution.TriggerManual})
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}

	ids, err := s.snapshots.ListTargets(ctx, t.Scope)
	if err != nil {
		return nil, fmt.Errorf("list targets for %s: %w", t.Code, err)
	}
	jobs := make([]job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, job{policy: t, entityID: id, trigger: execution.TriggerManual})
	}
	return collect(s.dispatch(ctx, newPass(), jobs)), nil
}

// Event is an inbound domain event.
type Event struct {
	Name       string                 `json:"name"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	EntityType fleet.EntityType       `json:"entity_type,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// HandleEvent dispatches every runnable policy whose schedule names the
// event. Only the named entity is evaluated when one is given, and only for
// policies scoped to its type.
func (s *Scheduler) HandleEvent(ctx context.Context, ev Event) ([]string, error) {
	if ev.Name == "" {
		return nil, fmt.Errorf("event name is required")
	}

	policies, err := s.registry.ForEvent(ctx, ev.TenantID, ev.Name, s.now())
	if err != nil {
		return nil, fmt.Errorf("resolve policies for event %s: %w", ev.Name, err)
	}

	payload := map[string]interface{}{"event": ev.Name}
	for k, v := range ev.Payload {
		payload[k] = v
	}

	var jobs []job
	for _, t := range policies {
		if ev.EntityID != "" {
			if ev.EntityType != "" && ev.EntityType != t.Scope.EntityType {
				continue
			}
			jobs = append(jobs, job{policy: t, entityID: ev.EntityID, trigger: execution.TriggerEvent, payload: payload})
			continue
		}
		ids, err := s.snapshots.ListTargets(ctx, t.Scope)
		if err != nil {
			s.logger.Error("failed to list policy targets",
				"policy_id", t.ID,
				"event", ev.Name,
				"error", err,
			)
			continue
		}
		for _, id := range ids {
			jobs = append(jobs, job{policy: t, entityID: id, trigger: execution.TriggerEvent, payload: payload})
		}
	}

	s.logger.Info("event received",
		"event", ev.Name,
		"policies", len(policies),
		"targets", len(jobs),
	)
	return collect(s.dispatch(ctx, newPass(), jobs)), nil
}

// Approve dispatches the actions of an awaiting_approval execution. The
// actions run in a new manual execution that references the original and
// reuses its snapshot.
func (s *Scheduler) Approve(ctx context.Context, id, actor string) (string, error) {
	parent, t, release, err := s.decide(ctx, id)
	if err != nil {
		return "", err
	}
	defer release()

	if !t.Runnable(s.now()) {
		return "", fmt.Errorf("%w: %s v%d is %s", ErrNotRunnable, t.Code, t.Version, describe(t))
	}

	child := s.childOf(t, parent, actor)
	if err := s.recorder.Begin(ctx, child); err != nil {
		return "", err
	}
	s.logger.Info("execution approved",
		"execution_id", parent.ID,
		"approval_execution_id", child.ID,
		"actor", actor,
	)
	s.run(ctx, t, child, true)
	return child.ID, nil
}

// Reject records a rejected execution referencing an awaiting_approval one.
// No actions are dispatched.
func (s *Scheduler) Reject(ctx context.Context, id, actor, reason string) (string, error) {
	parent, t, release, err := s.decide(ctx, id)
	if err != nil {
		return "", err
	}
	defer release()

	child := s.childOf(t, parent, actor)
	child.Status = execution.StatusRejected
	child.StatusReason = reason
	if err := s.recorder.Record(ctx, child); err != nil {
		return "", err
	}
	s.logger.Info("execution rejected",
		"execution_id", parent.ID,
		"rejection_execution_id", child.ID,
		"actor", actor,
	)
	return child.ID, nil
}

// decide loads an awaiting_approval execution under its pair's lease and
// checks it has not been decided yet.
func (s *Scheduler) decide(ctx context.Context, id string) (*execution.Execution, *policy.Template, func(), error) {
	parent, err := s.recorder.Get(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if parent.Status != execution.StatusAwaitingApproval {
		return nil, nil, nil, fmt.Errorf("%w: %s is %s", execution.ErrNotAwaitingApproval, id, parent.Status)
	}
	if !recorder.VerifySnapshot(parent.Snapshot, parent.SnapshotHash) {
		return nil, nil, nil, fmt.Errorf("%w: execution %s", ErrSnapshotMismatch, id)
	}

	t, err := s.registry.Get(ctx, parent.PolicyID)
	if err != nil {
		return nil, nil, nil, err
	}

	held, release, err := s.acquire(ctx, parent.PolicyID, parent.Entity.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !held {
		return nil, nil, nil, ErrTargetBusy
	}

	n, err := s.recorder.Count(ctx, &execution.Query{ParentID: id})
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	if n > 0 {
		release()
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrAlreadyDecided, id)
	}
	return parent, t, release, nil
}

func (s *Scheduler) childOf(t *policy.Template, parent *execution.Execution, actor string) *execution.Execution {
	child := s.newExecution(t, parent.Entity, execution.TriggerManual, map[string]interface{}{
		"approval_of": parent.ID,
	})
	child.ParentExecutionID = parent.ID
	child.Actor = actor
	child.Snapshot = parent.Snapshot
	child.SnapshotAt = parent.SnapshotAt
	child.SnapshotHash = parent.SnapshotHash
	child.Matched = parent.Matched
	child.ConditionTrace = parent.ConditionTrace
	child.VehicleID = parent.VehicleID
	child.DriverID = parent.DriverID
	child.WorkOrderID = parent.WorkOrderID
	return child
}

func collect(results []jobResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.executionID != "" {
			ids = append(ids, r.executionID)
		}
	}
	return ids
}

func describe(t *policy.Template) string {
	switch {
	case t.Status != policy.StatusActive:
		return string(t.Status)
	case !t.ExecutionEnabled:
		return "disabled"
	default:
		return "not yet effective"
	}
}

// IsBusy reports whether err means the target pair was already being
// processed.
func IsBusy(err error) bool {
	return errors.Is(err, ErrTargetBusy)
}
