package violation

import (
	"fmt"
	"time"
)

// Thresholds maps offense counts to disciplinary levels. Each field is the
// offense count at which that level starts.
type Thresholds struct {
	Verbal      int `yaml:"verbal"`
	Written     int `yaml:"written"`
	Suspension  int `yaml:"suspension"`
	Termination int `yaml:"termination"`
}

// DefaultThresholds returns 1 verbal, 2 written, 3 suspension, 4+
// termination.
func DefaultThresholds() Thresholds {
	return Thresholds{Verbal: 1, Written: 2, Suspension: 3, Termination: 4}
}

// Validate checks that the levels start at 1 and strictly increase.
func (t Thresholds) Validate() error {
	if t.Verbal < 1 {
		return fmt.Errorf("verbal threshold must be at least 1, got %d", t.Verbal)
	}
	if !(t.Verbal < t.Written && t.Written < t.Suspension && t.Suspension < t.Termination) {
		return fmt.Errorf("thresholds must strictly increase: verbal=%d written=%d suspension=%d termination=%d",
			t.Verbal, t.Written, t.Suspension, t.Termination)
	}
	return nil
}

// Level returns the disciplinary action for an offense count and severity.
// Critical severity always terminates. The result never decreases as the
// offense count grows.
func (t Thresholds) Level(offenseCount int, severity Severity) Discipline {
	switch {
	case severity == SeverityCritical:
		return DisciplineTermination
	case offenseCount >= t.Termination:
		return DisciplineTermination
	case offenseCount >= t.Suspension:
		return DisciplineSuspension
	case offenseCount >= t.Written:
		return DisciplineWrittenWarning
	default:
		return DisciplineVerbalWarning
	}
}

// Config configures the violation manager.
type Config struct {
	// Thresholds apply to tenants without an override.
	Thresholds Thresholds

	// TenantThresholds overrides Thresholds per tenant id.
	TenantThresholds map[string]Thresholds

	// TrainingFor lists the disciplinary levels that require training.
	// Serious severity always requires training unless the case terminates.
	TrainingFor []Discipline

	// AppealWindow is how long a subject may appeal after acknowledging.
	AppealWindow time.Duration

	// AutoAdvance walks the system-driven steps from Detected through
	// DisciplinaryAction as soon as a violation is detected.
	AutoAdvance bool

	// SweepSchedule is the cron spec for closing elapsed appeal windows.
	SweepSchedule string

	// SystemActor is recorded on transitions the engine makes on its own.
	SystemActor string
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() *Config {
	return &Config{
		Thresholds:    DefaultThresholds(),
		TrainingFor:   []Discipline{DisciplineWrittenWarning, DisciplineSuspension},
		AppealWindow:  7 * 24 * time.Hour,
		AutoAdvance:   true,
		SweepSchedule: "@every 1h",
		SystemActor:   "system",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	for tenant, t := range c.TenantThresholds {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tenant %s: %w", tenant, err)
		}
	}
	if c.AppealWindow <= 0 {
		return fmt.Errorf("appeal window must be positive")
	}
	return nil
}

// ThresholdsFor returns the thresholds that apply to a tenant.
func (c *Config) ThresholdsFor(tenantID string) Thresholds {
	if t, ok := c.TenantThresholds[tenantID]; ok {
		return t
	}
	return c.Thresholds
}

// requiresTraining reports whether a case at level d needs training.
func (c *Config) requiresTraining(d Discipline, severity Severity) bool {
	if d == DisciplineTermination {
		return false
	}
	if severity == SeveritySerious {
		return true
	}
	for _, t := range c.TrainingFor {
		if t == d {
			return true
		}
	}
	return false
}
