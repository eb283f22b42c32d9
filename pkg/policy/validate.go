package policy

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/condition"
)

// MinInterval is the shortest accepted interval schedule.
const MinInterval = time.Second

// Validate checks a template's structure. Action parameters are checked
// against the handler registry when one is given.
func Validate(t *Template, actions *action.Registry) error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if t.Code == "" {
		add("code is required")
	}
	if !t.Scope.EntityType.Valid() {
		add("scope.entity_type %q is not a known entity type", t.Scope.EntityType)
	}
	if t.Mode != "" && !t.Mode.Valid() {
		add("enforcement_mode %q is not valid", t.Mode)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		add("confidence %.2f must be between 0 and 1", t.Confidence)
	}

	set := 0
	if t.Schedule.Interval != 0 {
		set++
		if t.Schedule.Interval < MinInterval {
			add("schedule.interval %s is shorter than %s", t.Schedule.Interval, MinInterval)
		}
	}
	if t.Schedule.Cron != "" {
		set++
		if _, err := cron.ParseStandard(t.Schedule.Cron); err != nil {
			add("schedule.cron %q: %v", t.Schedule.Cron, err)
		}
	}
	if t.Schedule.Event != "" {
		set++
	}
	if set != 1 {
		add("schedule must set exactly one of interval, cron, event")
	}

	if err := condition.Validate(t.Conditions); err != nil {
		add("%v", err)
	}
	if len(t.Actions) == 0 {
		add("at least one action is required")
	}
	if actions != nil {
		if err := actions.Validate(t.Actions); err != nil {
			add("%v", err)
		}
	}
	if t.EffectiveDate != nil && t.ReviewDate != nil && t.ReviewDate.Before(*t.EffectiveDate) {
		add("review_date is before effective_date")
	}

	if len(problems) > 0 {
		return NewValidationError(t.Code, problems)
	}
	return nil
}
