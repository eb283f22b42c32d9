package policy

import (
	"errors"
	"testing"
	"time"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/condition"
)

func validTemplate() *Template {
	return &Template{
		Code:       "PM-5000",
		Name:       "Preventive maintenance",
		Scope:      fleet.Scope{EntityType: fleet.EntityVehicle},
		Conditions: condition.Leaf("odometer", condition.OpGreaterOrEqual, 5000),
		Actions: []action.Action{
			{Type: action.TypeCreateWorkOrder, Required: true, Parameters: map[string]interface{}{"title": "PM"}},
		},
		Mode:     ModeAutonomous,
		Schedule: Schedule{Interval: time.Hour},
	}
}

func TestTemplate_Due(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name    string
		mutate  func(t *Template)
		wantDue bool
	}{
		{"never run", func(t *Template) {}, true},
		{"next in past", func(t *Template) { t.NextExecutionAt = &past }, true},
		{"next is now", func(t *Template) { t.NextExecutionAt = &now }, true},
		{"next in future", func(t *Template) { t.NextExecutionAt = &future }, false},
		{"disabled", func(t *Template) { t.ExecutionEnabled = false; t.NextExecutionAt = &past }, false},
		{"draft", func(t *Template) { t.Status = StatusDraft }, false},
		{"archived", func(t *Template) { t.Status = StatusArchived }, false},
		{"event schedule", func(t *Template) { t.Schedule = Schedule{Event: "inspection.failed"} }, false},
		{"not yet effective", func(t *Template) { t.EffectiveDate = &future }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := validTemplate()
			tmpl.Status = StatusActive
			tmpl.ExecutionEnabled = true
			tt.mutate(tmpl)
			if got := tmpl.Due(now); got != tt.wantDue {
				t.Errorf("Due() = %v, want %v", got, tt.wantDue)
			}
		})
	}
}

func TestSchedule_Next(t *testing.T) {
	from := time.Date(2026, 10, 19, 12, 30, 0, 0, time.UTC)

	next, ok := Schedule{Interval: time.Hour}.Next(from)
	if !ok || !next.Equal(from.Add(time.Hour)) {
		t.Errorf("interval Next() = %v, %v", next, ok)
	}

	next, ok = Schedule{Cron: "0 * * * *"}.Next(from)
	if !ok || !next.Equal(time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("cron Next() = %v, %v", next, ok)
	}

	if _, ok := (Schedule{Event: "x"}).Next(from); ok {
		t.Error("event Next() returned ok")
	}
}

func TestValidate(t *testing.T) {
	reg := action.NewRegistry(fleet.Collaborators{})

	tests := []struct {
		name    string
		mutate  func(t *Template)
		wantErr bool
	}{
		{"valid", func(t *Template) {}, false},
		{"missing code", func(t *Template) { t.Code = "" }, true},
		{"bad scope", func(t *Template) { t.Scope.EntityType = "trailer" }, true},
		{"two schedules", func(t *Template) { t.Schedule.Event = "x" }, true},
		{"no schedule", func(t *Template) { t.Schedule = Schedule{} }, true},
		{"short interval", func(t *Template) { t.Schedule.Interval = time.Millisecond }, true},
		{"bad cron", func(t *Template) { t.Schedule = Schedule{Cron: "every tuesday"} }, true},
		{"bad condition", func(t *Template) { t.Conditions = condition.Leaf("odometer", "~", 1) }, true},
		{"no actions", func(t *Template) { t.Actions = nil }, true},
		{"bad action params", func(t *Template) { t.Actions = []action.Action{{Type: action.TypeNotify}} }, true},
		{"bad mode", func(t *Template) { t.Mode = "yolo" }, true},
		{"bad confidence", func(t *Template) { t.Confidence = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := validTemplate()
			tt.mutate(tmpl)
			err := Validate(tmpl, reg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("Validate() error type = %T, want *ValidationError", err)
				}
			}
		})
	}
}

func TestModeThresholds_DefaultMode(t *testing.T) {
	th := DefaultModeThresholds()
	tests := []struct {
		confidence float64
		want       EnforcementMode
	}{
		{0.95, ModeAutonomous},
		{0.9, ModeAutonomous},
		{0.7, ModeHumanInLoop},
		{0.2, ModeMonitor},
	}
	for _, tt := range tests {
		if got := th.DefaultMode(tt.confidence); got != tt.want {
			t.Errorf("DefaultMode(%v) = %s, want %s", tt.confidence, got, tt.want)
		}
	}
}

func TestTemplate_Fingerprint(t *testing.T) {
	a := validTemplate()
	b := validTemplate()
	b.Version = 7
	b.Status = StatusActive

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Fingerprint() differs for structurally identical templates")
	}

	b.Conditions = condition.Leaf("odometer", condition.OpGreaterOrEqual, 6000)
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("Fingerprint() equal for different conditions")
	}
}
