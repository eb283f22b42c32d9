package retention

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/storage/memory"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store execution.Storage, id string, status execution.Status, age time.Duration) {
	t.Helper()
	started := testNow.Add(-age)
	rec := &execution.Execution{
		ID:         id,
		PolicyID:   "pol-1",
		PolicyCode: "HOS-11",
		Trigger:    execution.TriggerSchedule,
		Entity:     fleet.EntityRef{Type: fleet.EntityDriver, ID: "drv-1"},
		Status:     status,
		StartedAt:  started,
	}
	if status.Terminal() {
		completed := started.Add(time.Second)
		rec.CompletedAt = &completed
	}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
}

func newTestPruner(store execution.Storage, cfg *Config) *Pruner {
	p := NewPruner(store, cfg)
	p.SetClock(func() time.Time { return testNow })
	return p
}

func TestPruner_Disabled(t *testing.T) {
	store := memory.NewExecutionStore()
	seed(t, store, "old", execution.StatusCompleted, 400*24*time.Hour)

	p := newTestPruner(store, DefaultConfig())
	if p.Enabled() {
		t.Fatal("default config should disable retention")
	}

	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 0 || store.Size() != 1 {
		t.Errorf("disabled pruner deleted %d records", deleted)
	}
}

func TestPruner_PrunesOnlyExpiredTerminalRecords(t *testing.T) {
	store := memory.NewExecutionStore()
	day := 24 * time.Hour

	seed(t, store, "old-completed", execution.StatusCompleted, 40*day)
	seed(t, store, "old-failed", execution.StatusFailed, 35*day)
	seed(t, store, "old-skipped", execution.StatusSkippedConditionsNotMet, 31*day)
	seed(t, store, "old-rejected", execution.StatusRejected, 60*day)
	seed(t, store, "old-pending", execution.StatusPending, 90*day)
	seed(t, store, "old-awaiting", execution.StatusAwaitingApproval, 90*day)
	seed(t, store, "recent-completed", execution.StatusCompleted, 5*day)

	p := newTestPruner(store, &Config{Days: 30, BatchSize: 2})
	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 4 {
		t.Errorf("deleted %d, want 4", deleted)
	}

	for _, id := range []string{"old-pending", "old-awaiting", "recent-completed"} {
		if _, err := store.Get(context.Background(), id); err != nil {
			t.Errorf("%s should survive pruning: %v", id, err)
		}
	}
	for _, id := range []string{"old-completed", "old-failed", "old-skipped", "old-rejected"} {
		if _, err := store.Get(context.Background(), id); err != execution.ErrNotFound {
			t.Errorf("%s should be pruned, got %v", id, err)
		}
	}

	// A second run has nothing left to do.
	deleted, err = p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("second Prune() deleted %d", deleted)
	}
}

func TestPruner_BatchesLargeBacklog(t *testing.T) {
	store := memory.NewExecutionStore()
	for i := 0; i < 23; i++ {
		seed(t, store, fmt.Sprintf("exec-%02d", i), execution.StatusCompleted, time.Duration(100+i)*24*time.Hour)
	}

	p := newTestPruner(store, &Config{Days: 30, BatchSize: 5})
	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 23 || store.Size() != 0 {
		t.Errorf("deleted %d, %d left", deleted, store.Size())
	}
}

func TestPruner_Archive(t *testing.T) {
	store := memory.NewExecutionStore()
	day := 24 * time.Hour
	seed(t, store, "a", execution.StatusCompleted, 50*day)
	seed(t, store, "b", execution.StatusFailed, 45*day)
	seed(t, store, "c", execution.StatusCompleted, 40*day)
	seed(t, store, "keep", execution.StatusCompleted, day)

	dir := t.TempDir()
	p := newTestPruner(store, &Config{Days: 30, BatchSize: 2, ArchivePath: dir})
	if _, err := p.Prune(context.Background()); err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}

	f, err := os.Open(p.ArchiveFile(testNow))
	if err != nil {
		t.Fatalf("archive file missing: %v", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e execution.Execution
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("archive line is not JSON: %v", err)
		}
		ids = append(ids, e.ID)
	}
	// Oldest first, across both batches.
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("archived %v, want [a b c]", ids)
	}
}

func TestPruner_CancelledContext(t *testing.T) {
	store := memory.NewExecutionStore()
	seed(t, store, "old", execution.StatusCompleted, 100*24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPruner(store, &Config{Days: 30, BatchSize: 10})
	if _, err := p.Prune(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if store.Size() != 1 {
		t.Error("nothing should be deleted after cancellation")
	}
}
