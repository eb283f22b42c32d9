package main

import (
	"errors"
	"testing"
	"time"

	"fleetguard/warden/pkg/cli"
	"fleetguard/warden/pkg/execution"
)

func TestParseTimeRange(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "2026-10-01T00:00:00Z/2026-10-02T00:00:00Z", false},
		{"spaces", " 2026-10-01T00:00:00Z / 2026-10-02T00:00:00+02:00 ", false},
		{"missing end", "2026-10-01T00:00:00Z", true},
		{"bad start", "yesterday/2026-10-02T00:00:00Z", true},
		{"inverted", "2026-10-02T00:00:00Z/2026-10-01T00:00:00Z", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseTimeRange(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseTimeRange(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTimeRange() failed: %v", err)
			}
			if end.Before(start) {
				t.Errorf("end %s before start %s", end, start)
			}
		})
	}
}

func TestExecutionQueryFromFlags(t *testing.T) {
	defer resetFlags(rootCmd)
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	executionFlags.policyCode = "HOS-11"
	executionFlags.entityType = "driver"
	executionFlags.entityID = "DR-7"
	executionFlags.statuses = "failed, awaiting_approval,"
	executionFlags.trigger = "manual"
	executionFlags.since = 24 * time.Hour
	executionFlags.timeRange = ""
	executionFlags.limit = 10
	executionFlags.sort = "asc"

	q, err := executionQueryFromFlags(now)
	if err != nil {
		t.Fatalf("executionQueryFromFlags() failed: %v", err)
	}
	if q.PolicyCode != "HOS-11" || q.EntityType != "driver" || q.EntityID != "DR-7" {
		t.Errorf("query = %+v", q)
	}
	if len(q.Statuses) != 2 || q.Statuses[0] != execution.StatusFailed || q.Statuses[1] != execution.StatusAwaitingApproval {
		t.Errorf("statuses = %v", q.Statuses)
	}
	if q.Trigger != execution.TriggerManual || q.Limit != 10 || q.SortOrder != "asc" {
		t.Errorf("query = %+v", q)
	}
	if q.StartTime == nil || !q.StartTime.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("start = %v", q.StartTime)
	}
}

func TestExecutionQueryFromFlagsRejects(t *testing.T) {
	tests := []struct {
		name string
		set  func()
	}{
		{"unknown entity type", func() { executionFlags.entityType = "trailer" }},
		{"unknown status", func() { executionFlags.statuses = "done" }},
		{"range and since", func() {
			executionFlags.timeRange = "2026-10-01T00:00:00Z/2026-10-02T00:00:00Z"
			executionFlags.since = time.Hour
		}},
		{"bad sort", func() { executionFlags.sort = "sideways" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(rootCmd)
			defer resetFlags(rootCmd)
			tt.set()

			_, err := executionQueryFromFlags(time.Now())
			var cfgErr *cli.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error = %v, want ConfigError", err)
			}
		})
	}
}
