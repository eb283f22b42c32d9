package main

import (
	"strings"
	"testing"

	"fleetguard/warden/pkg/policy"
)

const odometerPolicy = `
code: PM-5000
name: Preventive maintenance
scope:
  entity_type: vehicle
conditions:
  field: odometer
  operator: greater_or_equal
  value: 5000
actions:
  - type: create_work_order
    required: true
    parameters:
      title: "PM service"
mode: autonomous
schedule:
  interval: 1h
activate: true
`

const brokenPolicy = `
code: BROKEN
scope:
  entity_type: spaceship
conditions:
  field: odometer
  operator: greater_or_equal
  value: 1
actions:
  - type: notify
    parameters:
      recipient: ops
      message: hi
schedule:
  interval: 1h
`

func TestValidatePolicyFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pm.yaml", odometerPolicy)
	writeFile(t, dir, "broken.yaml", brokenPolicy)

	table, invalid := validatePolicyFiles([]string{dir}, policy.DefaultModeThresholds())
	if invalid != 1 {
		t.Errorf("invalid = %d, want 1", invalid)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2: %v", len(table.Rows), table.Rows)
	}

	results := map[string]string{}
	for _, row := range table.Rows {
		results[row[1]] = row[3]
	}
	if results["PM-5000"] != "ok" {
		t.Errorf("PM-5000 result = %q", results["PM-5000"])
	}
	if !strings.Contains(results["BROKEN"], "spaceship") {
		t.Errorf("BROKEN result = %q", results["BROKEN"])
	}
}

func TestValidatePolicyFilesMissingPath(t *testing.T) {
	table, invalid := validatePolicyFiles([]string{"/does/not/exist"}, policy.DefaultModeThresholds())
	if invalid != 1 || len(table.Rows) != 1 {
		t.Errorf("invalid = %d rows = %d, want 1 and 1", invalid, len(table.Rows))
	}
}

func TestScheduleString(t *testing.T) {
	tests := []struct {
		schedule policy.Schedule
		want     string
	}{
		{policy.Schedule{Cron: "0 6 * * *"}, "cron 0 6 * * *"},
		{policy.Schedule{Event: "inspection.completed"}, "on inspection.completed"},
		{policy.Schedule{}, "-"},
	}
	for _, tt := range tests {
		if got := scheduleString(tt.schedule); got != tt.want {
			t.Errorf("scheduleString(%+v) = %q, want %q", tt.schedule, got, tt.want)
		}
	}
}
