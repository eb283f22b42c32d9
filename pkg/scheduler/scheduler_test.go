package scheduler_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/execution/recorder"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/fleet/static"
	"fleetguard/warden/pkg/lease"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/condition"
	"fleetguard/warden/pkg/policy/registry"
	"fleetguard/warden/pkg/scheduler"
	"fleetguard/warden/pkg/storage/memory"
)

type harness struct {
	sched    *scheduler.Scheduler
	registry *registry.Registry
	recorder *recorder.Recorder
	dir      *static.Directory
	store    *memory.Store
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.New()
	dir := static.NewDirectory()

	actions := action.NewRegistry(dir.Collaborators())
	execCfg := action.DefaultConfig()
	execCfg.BackoffBase = time.Millisecond
	execCfg.BackoffMax = time.Millisecond
	execCfg.RateLimit = 0

	reg := registry.New(store.Policies, actions, registry.DefaultConfig())
	reg.SetClock(clock)

	recCfg := recorder.DefaultConfig()
	recCfg.AsyncBuffer = 0
	rec := recorder.NewRecorder(store.Executions, recCfg)
	rec.SetClock(clock)
	t.Cleanup(func() { rec.Close() })

	cfg := scheduler.DefaultConfig()
	cfg.Workers = 4
	s := scheduler.New(reg, dir, action.NewExecutor(actions, execCfg), rec, store.Leases, cfg)
	s.SetClock(clock)

	return &harness{sched: s, registry: reg, recorder: rec, dir: dir, store: store, now: now}
}

func (h *harness) activate(t *testing.T, mode policy.EnforcementMode) *policy.Template {
	t.Helper()
	ctx := context.Background()
	draft, err := h.registry.CreateDraft(ctx, &policy.Template{
		Code:       "PM-5000",
		Name:       "Preventive maintenance at 5000",
		Scope:      fleet.Scope{EntityType: fleet.EntityVehicle},
		Conditions: condition.Leaf("odometer", condition.OpGreaterOrEqual, 5000),
		Actions: []action.Action{
			{Type: action.TypeCreateWorkOrder, Required: true, Parameters: map[string]interface{}{"title": "PM service"}},
		},
		Mode:       mode,
		Confidence: 0.95,
		Schedule:   policy.Schedule{Interval: time.Hour},
	})
	if err != nil {
		t.Fatalf("CreateDraft() failed: %v", err)
	}
	active, err := h.registry.Activate(ctx, draft.ID)
	if err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	return active
}

func (h *harness) get(t *testing.T, id string) *execution.Execution {
	t.Helper()
	e, err := h.recorder.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	return e
}

func TestRunDue_ConditionsDecideOutcome(t *testing.T) {
	tests := []struct {
		name       string
		odometer   int
		wantStatus execution.Status
		wantOrders int
	}{
		{"over threshold", 5200, execution.StatusCompleted, 1},
		{"under threshold", 4800, execution.StatusSkippedConditionsNotMet, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := h.activate(t, policy.ModeAutonomous)
			h.dir.Put(fleet.EntityVehicle, "v-1", map[string]interface{}{"odometer": tt.odometer})

			stats, err := h.sched.RunDue(context.Background())
			if err != nil {
				t.Fatalf("RunDue() failed: %v", err)
			}
			if len(stats.Executions) != 1 {
				t.Fatalf("executions = %d, want 1", len(stats.Executions))
			}

			e := h.get(t, stats.Executions[0])
			if e.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", e.Status, tt.wantStatus)
			}
			if e.Trigger != execution.TriggerSchedule {
				t.Errorf("Trigger = %s, want scheduled", e.Trigger)
			}
			if len(e.ConditionTrace) != 1 {
				t.Errorf("trace has %d leaves, want 1", len(e.ConditionTrace))
			}
			if got := len(h.dir.WorkOrders()); got != tt.wantOrders {
				t.Errorf("work orders = %d, want %d", got, tt.wantOrders)
			}
			if tt.wantOrders > 0 && e.WorkOrderID == "" {
				t.Error("WorkOrderID not recorded")
			}

			// Next run is pushed out whether or not conditions matched.
			updated, err := h.registry.Get(context.Background(), p.ID)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			want := h.now.Add(time.Hour)
			if updated.NextExecutionAt == nil || !updated.NextExecutionAt.Equal(want) {
				t.Errorf("NextExecutionAt = %v, want %v", updated.NextExecutionAt, want)
			}

			again, err := h.sched.RunDue(context.Background())
			if err != nil {
				t.Fatalf("RunDue() failed: %v", err)
			}
			if again.Policies != 0 {
				t.Errorf("second pass due policies = %d, want 0", again.Policies)
			}
		})
	}
}

func TestRunDue_OneExecutionPerEntity(t *testing.T) {
	h := newHarness(t)
	h.activate(t, policy.ModeAutonomous)
	for _, id := range []string{"v-1", "v-2", "v-3"} {
		h.dir.Put(fleet.EntityVehicle, id, map[string]interface{}{"odometer": 6000})
	}

	stats, err := h.sched.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue() failed: %v", err)
	}
	if len(stats.Executions) != 3 {
		t.Errorf("executions = %d, want 3", len(stats.Executions))
	}
	if got := len(h.dir.WorkOrders()); got != 3 {
		t.Errorf("work orders = %d, want 3", got)
	}
}

func TestRunDue_DisabledNeverRuns(t *testing.T) {
	h := newHarness(t)
	p := h.activate(t, policy.ModeAutonomous)
	h.dir.Put(fleet.EntityVehicle, "v-1", map[string]interface{}{"odometer": 6000})

	if _, err := h.registry.SetExecutionEnabled(context.Background(), p.ID, false); err != nil {
		t.Fatalf("SetExecutionEnabled() failed: %v", err)
	}

	stats, err := h.sched.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue() failed: %v", err)
	}
	if stats.Policies != 0 || len(stats.Executions) != 0 {
		t.Errorf("stats = %+v, want nothing run", stats)
	}

	if _, err := h.sched.RunNow(context.Background(), p.ID, "v-1"); !errors.Is(err, scheduler.ErrNotRunnable) {
		t.Errorf("RunNow() error = %v, want ErrNotRunnable", err)
	}
}

func TestRunNow_MissingEntityIsSkipped(t *testing.T) {
	h := newHarness(t)
	p := h.activate(t, policy.ModeAutonomous)

	ids, err := h.sched.RunNow(context.Background(), p.ID, "v-gone")
	if err != nil {
		t.Fatalf("RunNow() failed: %v", err)
	}
	e := h.get(t, ids[0])
	if e.Status != execution.StatusSkipped {
		t.Errorf("Status = %s, want skipped", e.Status)
	}
	if e.Trigger != execution.TriggerManual {
		t.Errorf("Trigger = %s, want manual", e.Trigger)
	}
	if !strings.Contains(e.StatusReason, "v-gone") {
		t.Errorf("StatusReason = %q, want the entity named", e.StatusReason)
	}
}

func TestLeaseExclusivity(t *testing.T) {
	h := newHarness(t)
	p := h.activate(t, policy.ModeAutonomous)
	h.dir.Put(fleet.EntityVehicle, "v-1", map[string]interface{}{"odometer": 6000})
	h.dir.Delay(static.OpCreate, 200*time.Millisecond)

	var wg sync.WaitGroup
	var manualErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, manualErr = h.sched.RunNow(context.Background(), p.ID, "v-1")
	}()

	key := lease.Key{PolicyID: p.ID, EntityID: "v-1"}
	deadline := time.Now().Add(2 * time.Second)
	for !h.store.Leases.Held(key) {
		if time.Now().After(deadline) {
			t.Fatal("manual run never took the lease")
		}
		time.Sleep(time.Millisecond)
	}

	stats, err := h.sched.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue() failed: %v", err)
	}
	if stats.Busy != 1 || len(stats.Executions) != 0 {
		t.Errorf("stats = %+v, want one busy pair", stats)
	}

	if _, err := h.sched.RunNow(context.Background(), p.ID, "v-1"); !errors.Is(err, scheduler.ErrTargetBusy) {
		t.Errorf("RunNow() on busy pair error = %v, want ErrTargetBusy", err)
	}

	wg.Wait()
	if manualErr != nil {
		t.Fatalf("RunNow() failed: %v", manualErr)
	}
	if got := len(h.dir.WorkOrders()); got != 1 {
		t.Errorf("work orders = %d, want 1", got)
	}
}

func TestHandleEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	draft, err := h.registry.CreateDraft(ctx, &policy.Template{
		Code:       "INSP-FAIL",
		Scope:      fleet.Scope{EntityType: fleet.EntityVehicle},
		Conditions: condition.Leaf("inspection_result", condition.OpEquals, "fail"),
		Actions: []action.Action{
			{Type: action.TypeUpdateEntityStatus, Parameters: map[string]interface{}{"status": "out_of_service"}},
		},
		Mode:     policy.ModeAutonomous,
		Schedule: policy.Schedule{Event: "inspection.completed"},
	})
	if err != nil {
		t.Fatalf("CreateDraft() failed: %v", err)
	}
	if _, err := h.registry.Activate(ctx, draft.ID); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	h.dir.Put(fleet.EntityVehicle, "v-1", map[string]interface{}{"inspection_result": "fail"})
	h.dir.Put(fleet.EntityVehicle, "v-2", map[string]interface{}{"inspection_result": "fail"})

	ids, err := h.sched.HandleEvent(ctx, scheduler.Event{
		Name:       "inspection.completed",
		EntityType: fleet.EntityVehicle,
		EntityID:   "v-1",
	})
	if err != nil {
		t.Fatalf("HandleEvent() failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("executions = %d, want 1", len(ids))
	}
	e := h.get(t, ids[0])
	if e.Trigger != execution.TriggerEvent || e.Status != execution.StatusCompleted {
		t.Errorf("execution = %s/%s, want event/completed", e.Trigger, e.Status)
	}
	if e.TriggerPayload["event"] != "inspection.completed" {
		t.Errorf("TriggerPayload = %v", e.TriggerPayload)
	}
	updates := h.dir.StatusUpdates()
	if len(updates) != 1 || updates[0].EntityID != "v-1" {
		t.Errorf("status updates = %+v, want one for v-1", updates)
	}

	// Event policies are never part of the periodic due set.
	stats, err := h.sched.RunDue(ctx)
	if err != nil {
		t.Fatalf("RunDue() failed: %v", err)
	}
	if stats.Policies != 0 {
		t.Errorf("due policies = %d, want 0", stats.Policies)
	}
}

func TestMonitorMode(t *testing.T) {
	h := newHarness(t)
	p := h.activate(t, policy.ModeMonitor)
	h.dir.Put(fleet.EntityVehicle, "v-1", map[string]interface{}{"odometer": 6000})

	ids, err := h.sched.RunNow(context.Background(), p.ID, "v-1")
	if err != nil {
		t.Fatalf("RunNow() failed: %v", err)
	}
	e := h.get(t, ids[0])
	if e.Status != execution.StatusCompleted || e.StatusReason != "monitor mode" {
		t.Errorf("execution = %s (%s), want completed (monitor mode)", e.Status, e.StatusReason)
	}
	if len(e.ActionResults) != 1 || e.ActionResults[0].Status != action.StatusSkipped {
		t.Errorf("ActionResults = %+v, want one skipped", e.ActionResults)
	}
	if got := len(h.dir.WorkOrders()); got != 0 {
		t.Errorf("work orders = %d, want 0", got)
	}
}

func TestHumanInLoop_ApproveAndReject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.activate(t, policy.ModeHumanInLoop)
	h.dir.Put(fleet.EntityVehicle, "v-1", map[string]interface{}{"odometer": 6000})
	h.dir.Put(fleet.EntityVehicle, "v-2", map[string]interface{}{"odometer": 7000})

	ids, err := h.sched.RunNow(ctx, p.ID, "")
	if err != nil {
		t.Fatalf("RunNow() failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("executions = %d, want 2", len(ids))
	}
	for _, id := range ids {
		if e := h.get(t, id); e.Status != execution.StatusAwaitingApproval {
			t.Fatalf("Status = %s, want awaiting_approval", e.Status)
		}
	}
	if got := len(h.dir.WorkOrders()); got != 0 {
		t.Fatalf("work orders before approval = %d, want 0", got)
	}

	// The approval acts on the snapshot the original run saw.
	h.dir.Put(fleet.EntityVehicle, "v-1", map[string]interface{}{"odometer": 100})

	approvedID, err := h.sched.Approve(ctx, ids[0], "supervisor@example.com")
	if err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}
	approved := h.get(t, approvedID)
	if approved.Status != execution.StatusCompleted {
		t.Errorf("approved Status = %s, want completed", approved.Status)
	}
	if approved.ParentExecutionID != ids[0] || approved.Trigger != execution.TriggerManual {
		t.Errorf("approved parent = %q trigger = %s", approved.ParentExecutionID, approved.Trigger)
	}
	if got := len(h.dir.WorkOrders()); got != 1 {
		t.Errorf("work orders after approval = %d, want 1", got)
	}

	if _, err := h.sched.Approve(ctx, ids[0], "supervisor@example.com"); !errors.Is(err, scheduler.ErrAlreadyDecided) {
		t.Errorf("second Approve() error = %v, want ErrAlreadyDecided", err)
	}

	rejectedID, err := h.sched.Reject(ctx, ids[1], "supervisor@example.com", "vehicle sold")
	if err != nil {
		t.Fatalf("Reject() failed: %v", err)
	}
	rejected := h.get(t, rejectedID)
	if rejected.Status != execution.StatusRejected || rejected.StatusReason != "vehicle sold" {
		t.Errorf("rejected = %s (%s)", rejected.Status, rejected.StatusReason)
	}
	if got := len(h.dir.WorkOrders()); got != 1 {
		t.Errorf("work orders after rejection = %d, want 1", got)
	}

	if _, err := h.sched.Approve(ctx, approvedID, "x"); !errors.Is(err, execution.ErrNotAwaitingApproval) {
		t.Errorf("Approve(completed) error = %v, want ErrNotAwaitingApproval", err)
	}
}

func TestRecover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.activate(t, policy.ModeAutonomous)

	snapshot := map[string]interface{}{"odometer": 6000}
	stale := func(id, hash string) {
		err := h.store.Executions.Create(ctx, &execution.Execution{
			ID:            id,
			TenantID:      p.TenantID,
			PolicyID:      p.ID,
			PolicyCode:    p.Code,
			PolicyVersion: p.Version,
			Trigger:       execution.TriggerSchedule,
			Entity:        fleet.EntityRef{Type: fleet.EntityVehicle, ID: id},
			Mode:          p.Mode,
			Snapshot:      snapshot,
			SnapshotHash:  hash,
			Status:        execution.StatusPending,
			Owner:         "crashed-instance",
			StartedAt:     h.now.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}
	stale("exec-resume", recorder.HashSnapshot(snapshot))
	stale("exec-tampered", "not-the-hash")

	stats, err := h.sched.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if stats.Stale != 2 || stats.Resumed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 2 stale, 1 resumed, 1 failed", stats)
	}

	resumed := h.get(t, "exec-resume")
	if resumed.Status != execution.StatusCompleted {
		t.Errorf("resumed Status = %s, want completed", resumed.Status)
	}
	if resumed.Owner != "warden" || resumed.ResumeCount != 1 {
		t.Errorf("resumed owner = %q count = %d", resumed.Owner, resumed.ResumeCount)
	}

	failed := h.get(t, "exec-tampered")
	if failed.Status != execution.StatusFailed || !strings.HasPrefix(failed.StatusReason, "abandoned: pending longer than") {
		t.Errorf("failed = %s (%s)", failed.Status, failed.StatusReason)
	}

	again, err := h.sched.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if again.Stale != 0 {
		t.Errorf("second pass stale = %d, want 0", again.Stale)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*scheduler.Config)
		wantErr bool
	}{
		{"defaults", func(*scheduler.Config) {}, false},
		{"no workers", func(c *scheduler.Config) { c.Workers = 0 }, true},
		{"lease shorter than timeout", func(c *scheduler.Config) { c.LeaseTTL = time.Second }, true},
		{"grace shorter than timeout", func(c *scheduler.Config) { c.PendingGrace = time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := scheduler.DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
