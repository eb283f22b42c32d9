package scheduler

import (
	"context"
	"fmt"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/execution/recorder"
	"fleetguard/warden/pkg/policy"
)

// RecoveryStats summarizes one recovery pass.
type RecoveryStats struct {
	Stale   int
	Resumed int
	Failed  int
	Busy    int
}

// Recover settles pending records older than the configured grace. A
// record is resumed under its own id when its policy is still active, it
// was allowed to dispatch actions, every action handler is idempotent and
// its stored snapshot verifies. Everything else is failed as abandoned.
func (s *Scheduler) Recover(ctx context.Context) (*RecoveryStats, error) {
	stale, err := s.recorder.Stale(ctx, s.config.PendingGrace)
	if err != nil {
		return nil, fmt.Errorf("list stale executions: %w", err)
	}

	stats := &RecoveryStats{Stale: len(stale)}
	for _, e := range stale {
		if ctx.Err() != nil {
			break
		}
		held, release, err := s.acquire(ctx, e.PolicyID, e.Entity.ID)
		if err != nil {
			s.logger.Error("recovery lease failed", "execution_id", e.ID, "error", err)
			continue
		}
		if !held {
			// Another instance is working on the pair.
			stats.Busy++
			continue
		}

		if s.recoverOne(ctx, e) {
			stats.Resumed++
		} else {
			stats.Failed++
		}
		release()
	}

	if stats.Stale > 0 {
		s.logger.Info("recovery pass complete",
			"stale", stats.Stale,
			"resumed", stats.Resumed,
			"failed", stats.Failed,
			"busy", stats.Busy,
		)
	}
	return stats, nil
}

// recoverOne resumes or fails e and reports whether it was resumed.
func (s *Scheduler) recoverOne(ctx context.Context, e *execution.Execution) bool {
	t, err := s.registry.Get(ctx, e.PolicyID)
	if err == nil && s.resumable(t, e) {
		claimed, err := s.recorder.Resume(ctx, e.ID)
		if err == nil {
			s.logger.Info("resuming execution",
				"execution_id", e.ID,
				"policy_code", e.PolicyCode,
				"previous_owner", e.Owner,
			)
			s.run(ctx, t, claimed, claimed.ParentExecutionID != "")
			s.metrics.RecordRecovery("resumed")
			return true
		}
		s.logger.Warn("failed to claim stale execution", "execution_id", e.ID, "error", err)
	}

	reason := fmt.Sprintf("abandoned: pending longer than %s", s.config.PendingGrace)
	if err := s.recorder.Fail(ctx, e, reason); err != nil {
		s.logger.Error("failed to settle stale execution", "execution_id", e.ID, "error", err)
	}
	s.metrics.RecordRecovery("failed")
	return false
}

func (s *Scheduler) resumable(t *policy.Template, e *execution.Execution) bool {
	if t.Status != policy.StatusActive {
		return false
	}
	// Only records that were going to dispatch actions are resumed; an
	// approval child carries the approval with it.
	if t.Mode != policy.ModeAutonomous && e.ParentExecutionID == "" {
		return false
	}
	if !s.executor.Registry().Resumable(t.Actions) {
		return false
	}
	return recorder.VerifySnapshot(e.Snapshot, e.SnapshotHash)
}
