package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/storage/memory"
)

func newExecution() *execution.Execution {
	return &execution.Execution{
		TenantID:   "default",
		PolicyID:   "p1",
		PolicyCode: "PM-5000",
		Trigger:    execution.TriggerSchedule,
		Entity:     fleet.EntityRef{Type: fleet.EntityVehicle, ID: "veh-1"},
		Snapshot:   map[string]interface{}{"odometer": 5200},
	}
}

func TestRecorder_BeginWritesPending(t *testing.T) {
	store := memory.NewExecutionStore()
	rec := NewRecorder(store, &Config{Owner: "node-a"})
	defer rec.Close()
	ctx := context.Background()

	e := newExecution()
	if err := rec.Begin(ctx, e); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if e.ID == "" {
		t.Fatal("Begin() did not assign an id")
	}
	if e.SnapshotHash == "" {
		t.Error("Begin() did not hash the snapshot")
	}

	stored, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if stored.Status != execution.StatusPending || stored.Owner != "node-a" {
		t.Errorf("stored = %s owned by %q, want pending by node-a", stored.Status, stored.Owner)
	}

	pending, err := rec.HasPending(ctx, "p1", "veh-1")
	if err != nil || !pending {
		t.Errorf("HasPending() = %v, %v; want true", pending, err)
	}
}

func TestRecorder_FinalizeIsImmutable(t *testing.T) {
	store := memory.NewExecutionStore()
	rec := NewRecorder(store, &Config{})
	defer rec.Close()
	ctx := context.Background()

	e := newExecution()
	if err := rec.Begin(ctx, e); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	e.Status = execution.StatusCompleted
	e.Matched = true
	e.ActionResults = []action.Result{{
		Index:  0,
		Action: action.TypeCreateWorkOrder,
		Status: action.StatusSucceeded,
		Output: map[string]interface{}{action.OutputWorkOrderID: "wo-1"},
	}}
	if err := rec.Finalize(ctx, e); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}
	if e.WorkOrderID != "wo-1" {
		t.Errorf("WorkOrderID = %q, want wo-1", e.WorkOrderID)
	}
	if e.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	if err := rec.Fail(ctx, e, "late"); !errors.Is(err, execution.ErrImmutable) {
		t.Errorf("Fail() after Finalize error = %v, want ErrImmutable", err)
	}

	stored, _ := store.Get(ctx, e.ID)
	if stored.Status != execution.StatusCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}
}

func TestRecorder_FinalizeRejectsPending(t *testing.T) {
	rec := NewRecorder(memory.NewExecutionStore(), &Config{})
	defer rec.Close()
	ctx := context.Background()

	e := newExecution()
	rec.Begin(ctx, e)
	if err := rec.Finalize(ctx, e); err == nil {
		t.Error("Finalize() with pending status succeeded")
	}
}

func TestRecorder_FinalizeAfterCancel(t *testing.T) {
	rec := NewRecorder(memory.NewExecutionStore(), &Config{})
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	e := newExecution()
	if err := rec.Begin(ctx, e); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	cancel()

	if err := rec.Fail(ctx, e, "cancelled"); err != nil {
		t.Fatalf("Fail() after cancel failed: %v", err)
	}
}

func TestRecorder_PublishesToListeners(t *testing.T) {
	rec := NewRecorder(memory.NewExecutionStore(), &Config{AsyncBuffer: 4})
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	rec.Subscribe(ListenerFunc(func(_ context.Context, e *execution.Execution) {
		mu.Lock()
		seen = append(seen, e.ID)
		mu.Unlock()
	}))
	rec.Subscribe(ListenerFunc(func(_ context.Context, e *execution.Execution) {
		panic("listener bug")
	}))

	var ids []string
	for i := 0; i < 3; i++ {
		e := newExecution()
		rec.Begin(ctx, e)
		e.Status = execution.StatusSkippedConditionsNotMet
		if err := rec.Finalize(ctx, e); err != nil {
			t.Fatalf("Finalize() failed: %v", err)
		}
		ids = append(ids, e.ID)
	}

	rec.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(ids) {
		t.Fatalf("listener saw %d events, want %d", len(seen), len(ids))
	}
	for i := range ids {
		if seen[i] != ids[i] {
			t.Errorf("event %d = %s, want %s", i, seen[i], ids[i])
		}
	}
}

func TestRecorder_CloseDuringPublishLosesNothing(t *testing.T) {
	for round := 0; round < 20; round++ {
		rec := NewRecorder(memory.NewExecutionStore(), &Config{AsyncBuffer: 1})
		ctx := context.Background()

		var mu sync.Mutex
		seen := map[string]bool{}
		rec.Subscribe(ListenerFunc(func(_ context.Context, e *execution.Execution) {
			mu.Lock()
			seen[e.ID] = true
			mu.Unlock()
		}))

		const writers = 8
		ids := make(chan string, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e := newExecution()
				if err := rec.Begin(ctx, e); err != nil {
					t.Errorf("Begin() failed: %v", err)
					return
				}
				e.Status = execution.StatusCompleted
				if err := rec.Finalize(ctx, e); err != nil {
					t.Errorf("Finalize() failed: %v", err)
					return
				}
				ids <- e.ID
			}()
		}
		rec.Close()
		wg.Wait()
		close(ids)

		mu.Lock()
		for id := range ids {
			if !seen[id] {
				t.Errorf("round %d: event for %s was never delivered", round, id)
			}
		}
		mu.Unlock()
	}
}

func TestRecorder_StaleAndResume(t *testing.T) {
	store := memory.NewExecutionStore()
	rec := NewRecorder(store, &Config{Owner: "node-b"})
	defer rec.Close()
	ctx := context.Background()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	rec.SetClock(func() time.Time { return now })

	old := newExecution()
	old.StartedAt = now.Add(-time.Hour)
	rec.Begin(ctx, old)

	fresh := newExecution()
	fresh.Entity.ID = "veh-2"
	rec.Begin(ctx, fresh)

	stale, err := rec.Stale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("Stale() failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("Stale() = %d records, want only the old one", len(stale))
	}

	resumed, err := rec.Resume(ctx, old.ID)
	if err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	if resumed.ResumeCount != 1 || resumed.Owner != "node-b" {
		t.Errorf("resumed = count %d owner %q", resumed.ResumeCount, resumed.Owner)
	}
}

func TestRecorder_Query(t *testing.T) {
	rec := NewRecorder(memory.NewExecutionStore(), &Config{})
	defer rec.Close()

	_, err := rec.Query(context.Background(), &execution.Query{SortOrder: "sideways"})
	var qerr *execution.QueryError
	if !errors.As(err, &qerr) {
		t.Errorf("Query() error = %v, want QueryError", err)
	}
}

func TestHashSnapshot(t *testing.T) {
	a := map[string]interface{}{"odometer": 5200, "status": "active"}
	b := map[string]interface{}{"status": "active", "odometer": 5200}

	if HashSnapshot(a) != HashSnapshot(b) {
		t.Error("HashSnapshot() depends on map order")
	}
	if !VerifySnapshot(a, HashSnapshot(b)) {
		t.Error("VerifySnapshot() rejected an equal snapshot")
	}
	b["odometer"] = 5300
	if VerifySnapshot(a, HashSnapshot(b)) {
		t.Error("VerifySnapshot() accepted a changed snapshot")
	}
	if HashSnapshot(nil) != "" {
		t.Error("HashSnapshot(nil) should be empty")
	}
}
