package violation

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestThresholdsLevel(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		count    int
		severity Severity
		want     Discipline
	}{
		{1, SeverityMinor, DisciplineVerbalWarning},
		{2, SeverityMinor, DisciplineWrittenWarning},
		{3, SeverityModerate, DisciplineSuspension},
		{4, SeverityMinor, DisciplineTermination},
		{9, SeverityMinor, DisciplineTermination},
		{1, SeverityCritical, DisciplineTermination},
	}

	for _, tt := range tests {
		if got := th.Level(tt.count, tt.severity); got != tt.want {
			t.Errorf("Level(%d, %s) = %s, want %s", tt.count, tt.severity, got, tt.want)
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	tests := []struct {
		name    string
		th      Thresholds
		wantErr bool
	}{
		{"default", DefaultThresholds(), false},
		{"stricter", Thresholds{Verbal: 1, Written: 2, Suspension: 4, Termination: 6}, false},
		{"zero verbal", Thresholds{Verbal: 0, Written: 2, Suspension: 3, Termination: 4}, true},
		{"not increasing", Thresholds{Verbal: 1, Written: 3, Suspension: 3, Termination: 4}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.th.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestEscalationIsMonotonic verifies a higher offense count never yields a
// lighter disciplinary action, for any valid thresholds.
func TestEscalationIsMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	severities := []Severity{SeverityMinor, SeverityModerate, SeveritySerious, SeverityCritical}

	properties.Property("discipline never decreases with offense count", prop.ForAll(
		func(verbal, gap1, gap2, gap3, count, extra, sev int) bool {
			th := Thresholds{
				Verbal:      verbal,
				Written:     verbal + gap1,
				Suspension:  verbal + gap1 + gap2,
				Termination: verbal + gap1 + gap2 + gap3,
			}
			s := severities[sev]
			return th.Level(count, s).Rank() <= th.Level(count+extra, s).Rank()
		},
		gen.IntRange(1, 3),
		gen.IntRange(1, 3),
		gen.IntRange(1, 3),
		gen.IntRange(1, 3),
		gen.IntRange(1, 20),
		gen.IntRange(0, 20),
		gen.IntRange(0, len(severities)-1),
	))

	properties.TestingRun(t)
}

func TestRequiresTraining(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		level    Discipline
		severity Severity
		want     bool
	}{
		{DisciplineVerbalWarning, SeverityMinor, false},
		{DisciplineVerbalWarning, SeveritySerious, true},
		{DisciplineWrittenWarning, SeverityMinor, true},
		{DisciplineSuspension, SeverityModerate, true},
		{DisciplineTermination, SeveritySerious, false},
	}

	for _, tt := range tests {
		if got := cfg.requiresTraining(tt.level, tt.severity); got != tt.want {
			t.Errorf("requiresTraining(%s, %s) = %v, want %v", tt.level, tt.severity, got, tt.want)
		}
	}
}

func TestThresholdsForTenant(t *testing.T) {
	cfg := DefaultConfig()
	lenient := Thresholds{Verbal: 1, Written: 3, Suspension: 5, Termination: 7}
	cfg.TenantThresholds = map[string]Thresholds{"acme": lenient}

	if got := cfg.ThresholdsFor("acme"); got != lenient {
		t.Errorf("ThresholdsFor(acme) = %+v, want %+v", got, lenient)
	}
	if got := cfg.ThresholdsFor("other"); got != DefaultThresholds() {
		t.Errorf("ThresholdsFor(other) = %+v, want defaults", got)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDetected, StateInvestigation, true},
		{StateDetected, StateCaseClosed, false},
		{StateAppealWindow, StateCaseClosed, true},
		{StateAppealGranted, StateCaseReopened, true},
		{StateCaseClosed, StateInvestigation, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	// Every non-terminal state has a way forward.
	for from := range transitions {
		if len(NextStates(from)) == 0 {
			t.Errorf("state %s has no next states", from)
		}
	}
	if len(NextStates(StateCaseClosed)) != 0 {
		t.Error("case_closed must be terminal")
	}
}
