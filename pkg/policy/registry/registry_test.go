package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/condition"
	"fleetguard/warden/pkg/storage/memory"
)

func newTestRegistry(t *testing.T) (*Registry, *time.Time) {
	t.Helper()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	reg := New(memory.NewPolicyStore(), action.NewRegistry(fleet.Collaborators{}), DefaultConfig())
	reg.SetClock(func() time.Time { return now })
	return reg, &now
}

func pmTemplate(threshold int) *policy.Template {
	return &policy.Template{
		Code:       "PM-5000",
		Name:       "Preventive maintenance",
		Scope:      fleet.Scope{EntityType: fleet.EntityVehicle},
		Conditions: condition.Leaf("odometer", condition.OpGreaterOrEqual, threshold),
		Actions: []action.Action{
			{Type: action.TypeCreateWorkOrder, Required: true, Parameters: map[string]interface{}{"title": "PM service"}},
		},
		Confidence: 0.95,
		Schedule:   policy.Schedule{Interval: time.Hour},
	}
}

func TestRegistry_CreateDraftVersions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	v1, err := reg.CreateDraft(ctx, pmTemplate(5000))
	if err != nil {
		t.Fatalf("CreateDraft() failed: %v", err)
	}
	v2, err := reg.CreateDraft(ctx, pmTemplate(6000))
	if err != nil {
		t.Fatalf("CreateDraft() failed: %v", err)
	}

	if v1.Version != 1 || v2.Version != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", v1.Version, v2.Version)
	}
	if v1.Status != policy.StatusDraft {
		t.Errorf("Status = %s, want draft", v1.Status)
	}
	if v1.Mode != policy.ModeAutonomous {
		t.Errorf("Mode = %s, want autonomous from confidence 0.95", v1.Mode)
	}
	if v1.TenantID != "default" {
		t.Errorf("TenantID = %q, want default", v1.TenantID)
	}
}

func TestRegistry_CreateDraftInvalid(t *testing.T) {
	reg, _ := newTestRegistry(t)
	bad := pmTemplate(5000)
	bad.Schedule = policy.Schedule{}

	_, err := reg.CreateDraft(context.Background(), bad)
	var verr *policy.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("CreateDraft() error = %v, want ValidationError", err)
	}
}

func TestRegistry_ActivateSupersedes(t *testing.T) {
	reg, now := newTestRegistry(t)
	ctx := context.Background()

	v1, _ := reg.CreateDraft(ctx, pmTemplate(5000))
	if _, err := reg.Activate(ctx, v1.ID); err != nil {
		t.Fatalf("Activate(v1) failed: %v", err)
	}

	v2, _ := reg.CreateDraft(ctx, pmTemplate(6000))
	active, err := reg.Activate(ctx, v2.ID)
	if err != nil {
		t.Fatalf("Activate(v2) failed: %v", err)
	}
	if active.Supersedes != v1.ID {
		t.Errorf("Supersedes = %q, want %q", active.Supersedes, v1.ID)
	}
	if active.NextExecutionAt == nil || !active.NextExecutionAt.Equal(*now) {
		t.Errorf("NextExecutionAt = %v, want %v", active.NextExecutionAt, *now)
	}

	old, err := reg.Get(ctx, v1.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if old.Status != policy.StatusArchived || old.SupersededBy != v2.ID {
		t.Errorf("v1 status = %s superseded_by %q", old.Status, old.SupersededBy)
	}

	current, err := reg.GetActive(ctx, "", "PM-5000")
	if err != nil || current.ID != v2.ID {
		t.Errorf("GetActive() = %v, %v; want v2", current, err)
	}

	versions, _ := reg.Versions(ctx, "", "PM-5000")
	activeCount := 0
	for _, v := range versions {
		if v.Status == policy.StatusActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("active versions = %d, want 1", activeCount)
	}
}

func TestRegistry_ActiveIsImmutable(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	v1, _ := reg.CreateDraft(ctx, pmTemplate(5000))
	if _, err := reg.UpdateDraft(ctx, v1.ID, pmTemplate(5500)); err != nil {
		t.Fatalf("UpdateDraft() on draft failed: %v", err)
	}
	if _, err := reg.Activate(ctx, v1.ID); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}

	if _, err := reg.UpdateDraft(ctx, v1.ID, pmTemplate(7000)); !errors.Is(err, policy.ErrImmutable) {
		t.Errorf("UpdateDraft() on active error = %v, want ErrImmutable", err)
	}
	if _, err := reg.Activate(ctx, v1.ID); !errors.Is(err, policy.ErrInvalidTransition) {
		t.Errorf("Activate() on active error = %v, want ErrInvalidTransition", err)
	}
}

func TestRegistry_DueAndRecordRun(t *testing.T) {
	reg, now := newTestRegistry(t)
	ctx := context.Background()

	v1, _ := reg.CreateDraft(ctx, pmTemplate(5000))
	p, _ := reg.Activate(ctx, v1.ID)

	due, err := reg.Due(ctx, *now)
	if err != nil {
		t.Fatalf("Due() failed: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("Due() = %d policies, want 1", len(due))
	}

	if err := reg.RecordRun(ctx, p, *now); err != nil {
		t.Fatalf("RecordRun() failed: %v", err)
	}
	due, _ = reg.Due(ctx, now.Add(30*time.Minute))
	if len(due) != 0 {
		t.Errorf("Due() after run = %d, want 0", len(due))
	}
	due, _ = reg.Due(ctx, now.Add(time.Hour))
	if len(due) != 1 {
		t.Errorf("Due() one interval later = %d, want 1", len(due))
	}
}

func TestRegistry_DisabledNeverDue(t *testing.T) {
	reg, now := newTestRegistry(t)
	ctx := context.Background()

	v1, _ := reg.CreateDraft(ctx, pmTemplate(5000))
	if _, err := reg.Activate(ctx, v1.ID); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	if _, err := reg.SetExecutionEnabled(ctx, v1.ID, false); err != nil {
		t.Fatalf("SetExecutionEnabled() failed: %v", err)
	}

	for _, at := range []time.Time{*now, now.Add(time.Hour), now.Add(1000 * time.Hour)} {
		due, _ := reg.Due(ctx, at)
		if len(due) != 0 {
			t.Errorf("Due(%v) = %d, want 0 for disabled policy", at, len(due))
		}
	}
}

func TestRegistry_Retire(t *testing.T) {
	reg, now := newTestRegistry(t)
	ctx := context.Background()

	v1, _ := reg.CreateDraft(ctx, pmTemplate(5000))
	reg.Activate(ctx, v1.ID)

	retired, err := reg.Retire(ctx, v1.ID)
	if err != nil {
		t.Fatalf("Retire() failed: %v", err)
	}
	if retired.Status != policy.StatusArchived {
		t.Errorf("Status = %s, want archived", retired.Status)
	}
	if _, err := reg.Retire(ctx, v1.ID); !errors.Is(err, policy.ErrInvalidTransition) {
		t.Errorf("second Retire() error = %v, want ErrInvalidTransition", err)
	}
	due, _ := reg.Due(ctx, *now)
	if len(due) != 0 {
		t.Errorf("Due() = %d after retire, want 0", len(due))
	}
}

func TestRegistry_ForEvent(t *testing.T) {
	reg, now := newTestRegistry(t)
	ctx := context.Background()

	tmpl := pmTemplate(5000)
	tmpl.Code = "INSPECT"
	tmpl.Schedule = policy.Schedule{Event: "inspection.failed"}
	draft, err := reg.CreateDraft(ctx, tmpl)
	if err != nil {
		t.Fatalf("CreateDraft() failed: %v", err)
	}
	if _, err := reg.Activate(ctx, draft.ID); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}

	got, err := reg.ForEvent(ctx, "default", "inspection.failed", *now)
	if err != nil {
		t.Fatalf("ForEvent() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ForEvent() = %d, want 1", len(got))
	}
	if got, _ := reg.ForEvent(ctx, "default", "other", *now); len(got) != 0 {
		t.Errorf("ForEvent(other) = %d, want 0", len(got))
	}
	if due, _ := reg.Due(ctx, *now); len(due) != 0 {
		t.Errorf("Due() included an event policy")
	}
}
