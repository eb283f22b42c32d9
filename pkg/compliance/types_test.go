package compliance

import (
	"testing"
	"time"
)

func TestWindowKey(t *testing.T) {
	at := time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC)
	tests := []struct {
		typ  AuditType
		want string
	}{
		{AuditDaily, "daily:2026-10-19"},
		{AuditWeekly, "weekly:2026-W43"},
		{AuditMonthly, "monthly:2026-10"},
		{AuditAdhoc, "adhoc:2026-10-19T23:30:00.000000000Z"},
	}

	for _, tt := range tests {
		if got := WindowKey(tt.typ, at); got != tt.want {
			t.Errorf("WindowKey(%s) = %q, want %q", tt.typ, got, tt.want)
		}
	}

	// Ad-hoc keys differ for runs within the same day.
	if WindowKey(AuditAdhoc, at) == WindowKey(AuditAdhoc, at.Add(time.Millisecond)) {
		t.Error("ad-hoc runs a millisecond apart share a key")
	}

	// Keys are computed in UTC.
	east := time.FixedZone("UTC+3", 3*3600)
	if got := WindowKey(AuditDaily, time.Date(2026, 10, 20, 1, 0, 0, 0, east)); got != "daily:2026-10-19" {
		t.Errorf("WindowKey(non-UTC) = %q, want daily:2026-10-19", got)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		compliant, nonCompliant int
		want                    float64
	}{
		{8, 2, 0.8},
		{0, 0, 1.0},
		{0, 5, 0.0},
		{3, 0, 1.0},
	}

	for _, tt := range tests {
		if got := Score(tt.compliant, tt.nonCompliant); got != tt.want {
			t.Errorf("Score(%d, %d) = %v, want %v", tt.compliant, tt.nonCompliant, got, tt.want)
		}
	}
}
