package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/action"
)

// Config configures the registry.
type Config struct {
	// TenantID is used for templates created without a tenant.
	TenantID string

	// Thresholds seed the enforcement mode of templates that leave it unset.
	Thresholds policy.ModeThresholds
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() *Config {
	return &Config{
		TenantID:   "default",
		Thresholds: policy.DefaultModeThresholds(),
	}
}

// Registry is the policy template manager.
type Registry struct {
	store   policy.Storage
	actions *action.Registry
	config  *Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a registry backed by store. Action parameters are validated
// against actions when it is non-nil.
func New(store policy.Storage, actions *action.Registry, cfg *Config) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Registry{
		store:   store,
		actions: actions,
		config:  cfg,
		logger:  slog.Default().With("component", "policy.registry"),
		now:     time.Now,
	}
}

// SetClock overrides the registry's time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// CreateDraft stores t as a new draft version of its code. The version
// number is one greater than the highest existing version.
func (r *Registry) CreateDraft(ctx context.Context, t *policy.Template) (*policy.Template, error) {
	draft := t.Clone()
	if draft.TenantID == "" {
		draft.TenantID = r.config.TenantID
	}
	draft.Scope.TenantID = draft.TenantID
	if draft.Mode == "" {
		draft.Mode = r.config.Thresholds.DefaultMode(draft.Confidence)
	}
	if err := policy.Validate(draft, r.actions); err != nil {
		return nil, err
	}

	versions, err := r.store.Versions(ctx, draft.TenantID, draft.Code)
	if err != nil {
		return nil, err
	}
	maxVersion := 0
	for _, v := range versions {
		if v.Version > maxVersion {
			maxVersion = v.Version
		}
	}

	now := r.now().UTC()
	draft.ID = uuid.New().String()
	draft.Version = maxVersion + 1
	draft.Status = policy.StatusDraft
	draft.Supersedes = ""
	draft.SupersededBy = ""
	draft.LastExecutionAt = nil
	draft.NextExecutionAt = nil
	draft.ActivatedAt = nil
	draft.ArchivedAt = nil
	draft.CreatedAt = now
	draft.UpdatedAt = now

	if err := r.store.Create(ctx, draft); err != nil {
		return nil, err
	}

	r.logger.Info("policy draft created",
		"policy_id", draft.ID,
		"code", draft.Code,
		"version", draft.Version,
	)
	return draft, nil
}

// UpdateDraft replaces the structural content of a draft. Non-draft
// versions return policy.ErrImmutable.
func (r *Registry) UpdateDraft(ctx context.Context, id string, update *policy.Template) (*policy.Template, error) {
	current, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != policy.StatusDraft {
		return nil, fmt.Errorf("update %s v%d (%s): %w", current.Code, current.Version, current.Status, policy.ErrImmutable)
	}

	next := update.Clone()
	next.ID = current.ID
	next.TenantID = current.TenantID
	next.Scope.TenantID = current.TenantID
	next.Code = current.Code
	next.Version = current.Version
	next.Status = policy.StatusDraft
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = r.now().UTC()
	if next.Mode == "" {
		next.Mode = r.config.Thresholds.DefaultMode(next.Confidence)
	}
	if err := policy.Validate(next, r.actions); err != nil {
		return nil, err
	}

	if err := r.store.Update(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Activate makes a draft the active version of its code. The previously
// active version, if any, is archived in the same storage operation.
func (r *Registry) Activate(ctx context.Context, id string) (*policy.Template, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != policy.StatusDraft {
		return nil, fmt.Errorf("activate %s v%d (%s): %w", t.Code, t.Version, t.Status, policy.ErrInvalidTransition)
	}
	if err := policy.Validate(t, r.actions); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	t.Status = policy.StatusActive
	t.ActivatedAt = &now
	t.UpdatedAt = now
	t.ExecutionEnabled = true
	if t.Schedule.Periodic() {
		next := now
		if t.EffectiveDate != nil && t.EffectiveDate.After(now) {
			next = *t.EffectiveDate
		}
		t.NextExecutionAt = &next
	}

	previous, err := r.store.Activate(ctx, t)
	if err != nil {
		return nil, err
	}
	t.Supersedes = previous

	r.logger.Info("policy activated",
		"policy_id", t.ID,
		"code", t.Code,
		"version", t.Version,
		"superseded", previous,
	)
	return t, nil
}

// Retire archives an active version without replacing it.
func (r *Registry) Retire(ctx context.Context, id string) (*policy.Template, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == policy.StatusArchived {
		return nil, fmt.Errorf("retire %s v%d: %w", t.Code, t.Version, policy.ErrInvalidTransition)
	}

	now := r.now().UTC()
	t.Status = policy.StatusArchived
	t.ArchivedAt = &now
	t.UpdatedAt = now
	t.ExecutionEnabled = false
	t.NextExecutionAt = nil

	if err := r.store.Update(ctx, t); err != nil {
		return nil, err
	}

	r.logger.Info("policy retired", "policy_id", t.ID, "code", t.Code, "version", t.Version)
	return t, nil
}

// SetExecutionEnabled toggles execution of an active version.
func (r *Registry) SetExecutionEnabled(ctx context.Context, id string, enabled bool) (*policy.Template, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == policy.StatusArchived {
		return nil, fmt.Errorf("enable %s v%d: %w", t.Code, t.Version, policy.ErrInvalidTransition)
	}
	if t.ExecutionEnabled == enabled {
		return t, nil
	}

	now := r.now().UTC()
	t.ExecutionEnabled = enabled
	t.UpdatedAt = now
	if enabled && t.Status == policy.StatusActive && t.Schedule.Periodic() && t.NextExecutionAt == nil {
		t.NextExecutionAt = &now
	}

	if err := r.store.Update(ctx, t); err != nil {
		return nil, err
	}

	r.logger.Info("policy execution toggled", "policy_id", t.ID, "enabled", enabled)
	return t, nil
}

// RecordRun stores the scheduling metadata of a completed pass. The next
// execution is computed from the template's schedule.
func (r *Registry) RecordRun(ctx context.Context, t *policy.Template, ranAt time.Time) error {
	last := ranAt.UTC()
	var next *time.Time
	if n, ok := t.Schedule.Next(last); ok {
		n = n.UTC()
		next = &n
	}
	if err := r.store.UpdateSchedule(ctx, t.ID, &last, next); err != nil {
		return err
	}
	t.LastExecutionAt = &last
	t.NextExecutionAt = next
	return nil
}

// Get returns a template by id.
func (r *Registry) Get(ctx context.Context, id string) (*policy.Template, error) {
	return r.store.Get(ctx, id)
}

// GetActive returns the active version of a code.
func (r *Registry) GetActive(ctx context.Context, tenantID, code string) (*policy.Template, error) {
	if tenantID == "" {
		tenantID = r.config.TenantID
	}
	return r.store.GetActive(ctx, tenantID, code)
}

// List returns templates matching filter.
func (r *Registry) List(ctx context.Context, filter policy.ListFilter) ([]*policy.Template, error) {
	return r.store.List(ctx, filter)
}

// Versions returns every version of a code, oldest first.
func (r *Registry) Versions(ctx context.Context, tenantID, code string) ([]*policy.Template, error) {
	if tenantID == "" {
		tenantID = r.config.TenantID
	}
	return r.store.Versions(ctx, tenantID, code)
}

// Due returns the active, enabled, periodic templates whose next execution
// is at or before now.
func (r *Registry) Due(ctx context.Context, now time.Time) ([]*policy.Template, error) {
	active, err := r.store.List(ctx, policy.ListFilter{Status: policy.StatusActive, EnabledOnly: true})
	if err != nil {
		return nil, err
	}
	var due []*policy.Template
	for _, t := range active {
		if t.Due(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

// ForEvent returns the runnable templates triggered by the named event.
func (r *Registry) ForEvent(ctx context.Context, tenantID, event string, now time.Time) ([]*policy.Template, error) {
	active, err := r.store.List(ctx, policy.ListFilter{
		TenantID:    tenantID,
		Status:      policy.StatusActive,
		EnabledOnly: true,
		EventName:   event,
	})
	if err != nil {
		return nil, err
	}
	var out []*policy.Template
	for _, t := range active {
		if t.Schedule.Event == event && t.Runnable(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

// IsNotFound reports whether err means the template does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, policy.ErrNotFound)
}
