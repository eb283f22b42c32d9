package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleetguard/warden/pkg/compliance"
	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/lease"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/violation"
)

func TestExecutionStore_FinalizeOnce(t *testing.T) {
	store := NewExecutionStore()
	ctx := context.Background()

	e := &execution.Execution{
		ID:        "exec-1",
		PolicyID:  "p1",
		Entity:    fleet.EntityRef{Type: fleet.EntityVehicle, ID: "veh-1"},
		Status:    execution.StatusPending,
		StartedAt: time.Now(),
		Snapshot:  map[string]interface{}{"odometer": 5200},
	}
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	e.Status = execution.StatusCompleted
	if err := store.Finalize(ctx, e); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	e.Status = execution.StatusFailed
	if err := store.Finalize(ctx, e); !errors.Is(err, execution.ErrImmutable) {
		t.Fatalf("second Finalize() error = %v, want ErrImmutable", err)
	}

	got, err := store.Get(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != execution.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
}

func TestExecutionStore_CopiesRecords(t *testing.T) {
	store := NewExecutionStore()
	ctx := context.Background()

	e := &execution.Execution{ID: "exec-1", Status: execution.StatusPending, StartedAt: time.Now()}
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	e.Status = execution.StatusCompleted

	got, _ := store.Get(ctx, "exec-1")
	if got.Status != execution.StatusPending {
		t.Errorf("stored record was mutated through caller pointer")
	}
}

func TestExecutionStore_QueryAndDelete(t *testing.T) {
	store := NewExecutionStore()
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []execution.Status{execution.StatusCompleted, execution.StatusPending, execution.StatusFailed} {
		started := base.Add(time.Duration(i) * time.Hour)
		e := &execution.Execution{
			ID:        string(rune('a' + i)),
			PolicyID:  "p1",
			Entity:    fleet.EntityRef{Type: fleet.EntityVehicle, ID: "veh-1"},
			Status:    st,
			StartedAt: started,
		}
		if st.Terminal() {
			done := started.Add(time.Minute)
			e.CompletedAt = &done
		}
		if err := store.Create(ctx, e); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	got, err := store.Query(ctx, &execution.Query{PolicyID: "p1", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Query() returned %d records, want 3", len(got))
	}
	if got[0].ID != "a" {
		t.Errorf("Query(asc) first = %q, want a", got[0].ID)
	}

	n, _ := store.Count(ctx, &execution.Query{Statuses: []execution.Status{execution.StatusPending}})
	if n != 1 {
		t.Errorf("Count(pending) = %d, want 1", n)
	}

	deleted, err := store.Delete(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Delete() = %d, want 2 (pending record kept)", deleted)
	}
	if store.Size() != 1 {
		t.Errorf("Size() = %d, want 1", store.Size())
	}
}

func TestPolicyStore_ActivateSupersedes(t *testing.T) {
	store := NewPolicyStore()
	ctx := context.Background()

	v1 := &policy.Template{ID: "v1", TenantID: "t", Code: "PM", Version: 1, Status: policy.StatusDraft}
	v2 := &policy.Template{ID: "v2", TenantID: "t", Code: "PM", Version: 2, Status: policy.StatusDraft}
	for _, p := range []*policy.Template{v1, v2} {
		if err := store.Create(ctx, p); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	v1.Status = policy.StatusActive
	if prev, err := store.Activate(ctx, v1); err != nil || prev != "" {
		t.Fatalf("Activate(v1) = %q, %v", prev, err)
	}

	v2.Status = policy.StatusActive
	prev, err := store.Activate(ctx, v2)
	if err != nil {
		t.Fatalf("Activate(v2) failed: %v", err)
	}
	if prev != "v1" {
		t.Errorf("Activate(v2) previous = %q, want v1", prev)
	}

	old, _ := store.Get(ctx, "v1")
	if old.Status != policy.StatusArchived || old.SupersededBy != "v2" {
		t.Errorf("v1 = %s superseded_by %q, want archived by v2", old.Status, old.SupersededBy)
	}
	active, err := store.GetActive(ctx, "t", "PM")
	if err != nil || active.ID != "v2" {
		t.Errorf("GetActive() = %v, %v; want v2", active, err)
	}
}

func TestViolationStore_Revision(t *testing.T) {
	store := NewViolationStore()
	ctx := context.Background()

	v := &violation.Violation{ID: "v1", ExecutionID: "e1", ActionIndex: 0, State: violation.StateDetected}
	if err := store.Create(ctx, v); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	dup := &violation.Violation{ID: "v2", ExecutionID: "e1", ActionIndex: 0}
	if err := store.Create(ctx, dup); !errors.Is(err, violation.ErrDuplicate) {
		t.Errorf("Create(duplicate source) error = %v, want ErrDuplicate", err)
	}

	v.Revision = 1
	if err := store.Update(ctx, v, 0); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if err := store.Update(ctx, v, 0); !errors.Is(err, violation.ErrConflict) {
		t.Errorf("stale Update() error = %v, want ErrConflict", err)
	}
}

func TestAuditStore_UpsertKeepsID(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()

	first := &compliance.Audit{ID: "a1", PolicyID: "p1", WindowKey: "daily:2026-10-19", Score: 0.5}
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	second := &compliance.Audit{ID: "a2", PolicyID: "p1", WindowKey: "daily:2026-10-19", Score: 0.8}
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if second.ID != "a1" {
		t.Errorf("Upsert() id = %q, want a1", second.ID)
	}

	list, _ := store.List(ctx, "p1", 0)
	if len(list) != 1 || list[0].Score != 0.8 {
		t.Errorf("List() = %d audits, want 1 with score 0.8", len(list))
	}
}

func TestLeaseStore_Exclusive(t *testing.T) {
	store := NewLeaseStore()
	ctx := context.Background()
	key := lease.Key{PolicyID: "p1", EntityID: "veh-1"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := store.Acquire(ctx, key, "node", time.Minute); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("granted = %d, want 1", granted)
	}
}

func TestLeaseStore_Expiry(t *testing.T) {
	store := NewLeaseStore()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()
	key := lease.Key{PolicyID: "p1", EntityID: "veh-1"}

	old, ok, _ := store.Acquire(ctx, key, "a", time.Second)
	if !ok {
		t.Fatal("Acquire() not granted")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := store.Acquire(ctx, key, "b", time.Second); !ok {
		t.Fatal("Acquire() after expiry not granted")
	}
	if err := store.Release(ctx, old); !errors.Is(err, lease.ErrNotHeld) {
		t.Errorf("Release(stale) error = %v, want ErrNotHeld", err)
	}
}
