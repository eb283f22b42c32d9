package violation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/telemetry/metrics"
)

// maxUpdateAttempts bounds optimistic-concurrency retries.
const maxUpdateAttempts = 3

// DetectRequest describes a newly detected violation.
type DetectRequest struct {
	TenantID    string
	PolicyID    string
	PolicyCode  string
	ExecutionID string
	ActionIndex int
	Subject     fleet.EntityRef
	Severity    Severity
	Description string
	Actor       string
}

// Manager owns and advances violation cases.
type Manager struct {
	store   Storage
	config  *Config
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewManager creates a manager over store.
func NewManager(store Storage, cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SystemActor == "" {
		cfg.SystemActor = "system"
	}
	return &Manager{
		store:  store,
		config: cfg,
		logger: slog.Default().With("component", "violation.manager"),
		now:    time.Now,
	}
}

// SetMetrics attaches a metrics collector.
func (m *Manager) SetMetrics(c *metrics.Collector) {
	m.metrics = c
}

// SetClock overrides the manager's time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Detect records a new violation. The offense count is computed here, once.
// With auto-advance the case is walked to its disciplinary outcome before
// it is stored. A repeated detection for the same execution action returns
// the existing violation.
func (m *Manager) Detect(ctx context.Context, req DetectRequest) (*Violation, error) {
	if !req.Severity.Valid() {
		return nil, fmt.Errorf("detect: unknown severity %q", req.Severity)
	}
	if req.Subject.ID == "" {
		return nil, fmt.Errorf("detect: subject id is required")
	}
	if req.ExecutionID != "" {
		existing, err := m.store.FindBySource(ctx, req.ExecutionID, req.ActionIndex)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	prior, err := m.store.CountClosed(ctx, req.TenantID, req.PolicyCode, req.Subject)
	if err != nil {
		return nil, err
	}

	actor := req.Actor
	if actor == "" {
		actor = m.config.SystemActor
	}
	now := m.now().UTC()
	v := &Violation{
		ID:           uuid.New().String(),
		TenantID:     req.TenantID,
		PolicyID:     req.PolicyID,
		PolicyCode:   req.PolicyCode,
		ExecutionID:  req.ExecutionID,
		ActionIndex:  req.ActionIndex,
		Subject:      req.Subject,
		Severity:     req.Severity,
		Description:  req.Description,
		OffenseCount: prior + 1,
		AppealStatus: AppealNone,
		State:        StateDetected,
		DetectedAt:   now,
		UpdatedAt:    now,
		History: []Transition{{
			To:     StateDetected,
			Actor:  actor,
			Reason: req.Description,
			At:     now,
		}},
	}

	var transitioned []State
	if m.config.AutoAdvance {
		sys := m.config.SystemActor
		steps := []func() error{
			func() error { return m.advance(v, StateInvestigation, sys, "opened automatically", &transitioned) },
			func() error { return m.classify(v, sys, "", &transitioned) },
			func() error { return m.discipline(v, sys, "", &transitioned) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return nil, err
			}
		}
	}

	if err := m.store.Create(ctx, v); err != nil {
		if errors.Is(err, ErrDuplicate) && req.ExecutionID != "" {
			return m.store.FindBySource(ctx, req.ExecutionID, req.ActionIndex)
		}
		return nil, err
	}

	m.metrics.RecordViolationTransition(string(StateDetected))
	for _, s := range transitioned {
		m.metrics.RecordViolationTransition(string(s))
	}

	m.logger.Info("violation detected",
		"violation_id", v.ID,
		"policy_code", v.PolicyCode,
		"subject", v.Subject.String(),
		"severity", v.Severity,
		"offense_count", v.OffenseCount,
		"state", v.State,
		"discipline", v.Discipline,
	)
	return v, nil
}

// Investigate opens an investigation on a detected or reopened case.
func (m *Manager) Investigate(ctx context.Context, id, actor, reason string) (*Violation, error) {
	return m.update(ctx, id, func(v *Violation, moved *[]State) error {
		return m.advance(v, StateInvestigation, actor, reason, moved)
	})
}

// Classify decides first or repeat offense from the fixed offense count.
func (m *Manager) Classify(ctx context.Context, id, actor, reason string) (*Violation, error) {
	return m.update(ctx, id, func(v *Violation, moved *[]State) error {
		return m.classify(v, actor, reason, moved)
	})
}

// Discipline applies the disciplinary level for the case and moves it on
// to training, acknowledgment or closure.
func (m *Manager) Discipline(ctx context.Context, id, actor, reason string) (*Violation, error) {
	return m.update(ctx, id, func(v *Violation, moved *[]State) error {
		return m.discipline(v, actor, reason, moved)
	})
}

// CompleteTraining records completed training and asks for acknowledgment.
func (m *Manager) CompleteTraining(ctx context.Context, id, actor, reason string) (*Violation, error) {
	return m.update(ctx, id, func(v *Violation, moved *[]State) error {
		if err := m.advance(v, StateTrainingComplete, actor, reason, moved); err != nil {
			return err
		}
		return m.advance(v, StateEmployeeAcknowledge, m.config.SystemActor, "training complete", moved)
	})
}

// Acknowledge records the subject's acknowledgment and opens the appeal
// window.
func (m *Manager) Acknowledge(ctx context.Context, id, actor, reason string) (*Violation, error) {
	return m.update(ctx, id, func(v *Violation, moved *[]State) error {
		if err := m.advance(v, StateAppealWindow, actor, reason, moved); err != nil {
			return err
		}
		deadline := m.now().UTC().Add(m.config.AppealWindow)
		v.AppealDeadline = &deadline
		return nil
	})
}

// Appeal files an appeal while the window is open.
func (m *Manager) Appeal(ctx context.Context, id, actor, reason string) (*Violation, error) {
	return m.update(ctx, id, func(v *Violation, moved *[]State) error {
		if v.State == StateAppealWindow && v.AppealDeadline != nil && m.now().After(*v.AppealDeadline) {
			return fmt.Errorf("appeal %s: %w", v.ID, ErrAppealWindowClosed)
		}
		if err := m.advance(v, StateAppealReview, actor, reason, moved); err != nil {
			return err
		}
		v.AppealStatus = AppealFiled
		return nil
	})
}

// DecideAppeal resolves an appeal under review. A granted appeal reopens
// the case and returns it to investigation; a denied one closes it.
func (m *Manager) DecideAppeal(ctx context.Context, id, actor string, granted bool, reason string) (*Violation, error) {
	return m.update(ctx, id, func(v *Violation, moved *[]State) error {
		if !granted {
			if err := m.advance(v, StateAppealDenied, actor, reason, moved); err != nil {
				return err
			}
			v.AppealStatus = AppealDenied
			return m.advance(v, StateCaseClosed, m.config.SystemActor, "appeal denied", moved)
		}

		if err := m.advance(v, StateAppealGranted, actor, reason, moved); err != nil {
			return err
		}
		v.AppealStatus = AppealGranted
		if err := m.advance(v, StateCaseReopened, m.config.SystemActor, "appeal granted", moved); err != nil {
			return err
		}
		v.Discipline = DisciplineNone
		v.TrainingRequired = false
		v.AppealDeadline = nil
		return m.advance(v, StateInvestigation, m.config.SystemActor, "case reopened", moved)
	})
}

// Command is a named lifecycle command, as accepted by the HTTP API.
type Command struct {
	Name    string `json:"command"`
	Actor   string `json:"actor"`
	Reason  string `json:"reason,omitempty"`
	Granted bool   `json:"granted,omitempty"`
}

// Apply runs a named command against a violation.
func (m *Manager) Apply(ctx context.Context, id string, cmd Command) (*Violation, error) {
	if cmd.Actor == "" {
		return nil, fmt.Errorf("command %s: actor is required", cmd.Name)
	}
	switch cmd.Name {
	case "investigate":
		return m.Investigate(ctx, id, cmd.Actor, cmd.Reason)
	case "classify":
		return m.Classify(ctx, id, cmd.Actor, cmd.Reason)
	case "discipline":
		return m.Discipline(ctx, id, cmd.Actor, cmd.Reason)
	case "complete_training":
		return m.CompleteTraining(ctx, id, cmd.Actor, cmd.Reason)
	case "acknowledge":
		return m.Acknowledge(ctx, id, cmd.Actor, cmd.Reason)
	case "appeal":
		return m.Appeal(ctx, id, cmd.Actor, cmd.Reason)
	case "decide_appeal":
		return m.DecideAppeal(ctx, id, cmd.Actor, cmd.Granted, cmd.Reason)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Name)
	}
}

// SweepAppealWindows closes every case whose appeal window elapsed at or
// before now. It returns the number of cases closed.
func (m *Manager) SweepAppealWindows(ctx context.Context, now time.Time) (int, error) {
	elapsed, err := m.store.AppealWindowsElapsed(ctx, now)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, candidate := range elapsed {
		_, err := m.update(ctx, candidate.ID, func(v *Violation, moved *[]State) error {
			if v.State != StateAppealWindow || v.AppealDeadline == nil || v.AppealDeadline.After(now) {
				return errSkip
			}
			return m.advance(v, StateCaseClosed, m.config.SystemActor, "appeal window elapsed", moved)
		})
		switch {
		case err == nil:
			closed++
		case errors.Is(err, errSkip):
		default:
			m.logger.Error("failed to close appeal window",
				"violation_id", candidate.ID,
				"error", err,
			)
		}
	}

	if closed > 0 {
		m.logger.Info("appeal windows closed", "count", closed)
	}
	return closed, nil
}

// OnExecution detects violations signalled by record_violation actions of
// a finalized execution.
func (m *Manager) OnExecution(ctx context.Context, e *execution.Execution) {
	for _, res := range e.ActionResults {
		if res.Action != action.TypeRecordViolation || res.Status != action.StatusSucceeded {
			continue
		}
		sig, ok := action.ViolationSignalFrom(res.Output)
		if !ok {
			continue
		}
		_, err := m.Detect(ctx, DetectRequest{
			TenantID:    e.TenantID,
			PolicyID:    e.PolicyID,
			PolicyCode:  e.PolicyCode,
			ExecutionID: e.ID,
			ActionIndex: res.Index,
			Subject:     fleet.EntityRef{Type: fleet.EntityType(sig.SubjectType), ID: sig.SubjectID},
			Severity:    Severity(sig.Severity),
			Description: sig.Description,
		})
		if err != nil {
			m.logger.Error("failed to record violation",
				"execution_id", e.ID,
				"action_index", res.Index,
				"error", err,
			)
		}
	}
}

// Get returns a violation by id.
func (m *Manager) Get(ctx context.Context, id string) (*Violation, error) {
	return m.store.Get(ctx, id)
}

// Open returns the open violations for a subject.
func (m *Manager) Open(ctx context.Context, tenantID string, subject fleet.EntityRef) ([]*Violation, error) {
	return m.store.Query(ctx, &Query{
		TenantID:    tenantID,
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		OpenOnly:    true,
	})
}

// Query returns violations matching q.
func (m *Manager) Query(ctx context.Context, q *Query) ([]*Violation, error) {
	return m.store.Query(ctx, q)
}

// Start schedules the appeal window sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return fmt.Errorf("violation sweep already running")
	}
	if m.config.SweepSchedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(m.config.SweepSchedule, func() {
		if _, err := m.SweepAppealWindows(ctx, m.now()); err != nil {
			m.logger.Error("appeal window sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", m.config.SweepSchedule, err)
	}

	c.Start()
	m.cron = c
	m.logger.Info("violation sweep started", "schedule", m.config.SweepSchedule)
	return nil
}

// Stop stops the sweep and waits for a running sweep to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		m.logger.Info("violation sweep stopped")
	}
}

var errSkip = errors.New("skip")

// update loads a violation, applies fn and stores it with an optimistic
// revision check, retrying on conflict.
func (m *Manager) update(ctx context.Context, id string, fn func(v *Violation, moved *[]State) error) (*Violation, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		v, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		var moved []State
		if err := fn(v, &moved); err != nil {
			return nil, err
		}

		prev := v.Revision
		v.Revision++
		v.UpdatedAt = m.now().UTC()
		err = m.store.Update(ctx, v, prev)
		if err == nil {
			for _, s := range moved {
				m.metrics.RecordViolationTransition(string(s))
			}
			return v, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// advance appends a transition after checking it is an edge of the
// lifecycle.
func (m *Manager) advance(v *Violation, to State, actor, reason string, moved *[]State) error {
	if !CanTransition(v.State, to) {
		return NewTransitionError(v.State, to, "")
	}
	if actor == "" {
		actor = m.config.SystemActor
	}
	now := m.now().UTC()
	v.History = append(v.History, Transition{
		From:   v.State,
		To:     to,
		Actor:  actor,
		Reason: reason,
		At:     now,
	})
	v.State = to
	if to == StateCaseClosed {
		v.ClosedAt = &now
		v.AppealDeadline = nil
	}
	*moved = append(*moved, to)

	m.logger.Debug("violation transition",
		"violation_id", v.ID,
		"to", to,
		"actor", actor,
	)
	return nil
}

func (m *Manager) classify(v *Violation, actor, reason string, moved *[]State) error {
	to := StateFirstOffense
	if v.OffenseCount > 1 {
		to = StateRepeatOffense
	}
	if reason == "" {
		reason = fmt.Sprintf("offense %d for %s", v.OffenseCount, v.PolicyCode)
	}
	return m.advance(v, to, actor, reason, moved)
}

func (m *Manager) discipline(v *Violation, actor, reason string, moved *[]State) error {
	level := m.config.ThresholdsFor(v.TenantID).Level(v.OffenseCount, v.Severity)
	if reason == "" {
		reason = string(level)
	}
	if err := m.advance(v, StateDisciplinaryAction, actor, reason, moved); err != nil {
		return err
	}
	v.Discipline = level

	if level == DisciplineTermination {
		return m.advance(v, StateCaseClosed, m.config.SystemActor, "termination", moved)
	}
	if m.config.requiresTraining(level, v.Severity) {
		v.TrainingRequired = true
		return m.advance(v, StateTrainingRequired, m.config.SystemActor, "training required", moved)
	}
	v.TrainingRequired = false
	return m.advance(v, StateEmployeeAcknowledge, m.config.SystemActor, "awaiting acknowledgment", moved)
}
