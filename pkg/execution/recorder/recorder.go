package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/telemetry/metrics"
)

// Config contains configuration for the execution recorder.
type Config struct {
	// Owner identifies this engine instance on pending records.
	Owner string

	// AsyncBuffer is the size of the listener event buffer. Zero delivers
	// events synchronously from Finalize.
	// Default: 256
	AsyncBuffer int

	// WriteTimeout bounds each storage write. Writes are detached from the
	// caller's cancellation so a cancelled pass still finalizes its records.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Owner:        "warden",
		AsyncBuffer:  256,
		WriteTimeout: 5 * time.Second,
	}
}

// Listener receives finalized executions.
type Listener interface {
	OnExecution(ctx context.Context, e *execution.Execution)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e *execution.Execution)

// OnExecution calls f.
func (f ListenerFunc) OnExecution(ctx context.Context, e *execution.Execution) {
	f(ctx, e)
}

// Recorder writes execution records and publishes finalized ones.
type Recorder struct {
	storage execution.Storage
	config  *Config
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	listeners []Listener

	// closeMu orders sends on events before Close stops the worker.
	closeMu sync.RWMutex
	closed  bool

	events chan *execution.Execution
	wg     sync.WaitGroup
	done   chan struct{}
	once   sync.Once
}

// NewRecorder creates a recorder over storage.
func NewRecorder(storage execution.Storage, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		storage: storage,
		config:  config,
		logger:  slog.Default().With("component", "execution.recorder"),
		now:     time.Now,
		done:    make(chan struct{}),
	}

	if config.AsyncBuffer > 0 {
		r.events = make(chan *execution.Execution, config.AsyncBuffer)
		r.wg.Add(1)
		go r.worker()
	}

	return r
}

// SetMetrics attaches a metrics collector.
func (r *Recorder) SetMetrics(m *metrics.Collector) {
	r.metrics = m
}

// SetClock overrides the recorder's time source.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Owner returns the instance id written on pending records.
func (r *Recorder) Owner() string {
	return r.config.Owner
}

// Subscribe registers a listener for finalized executions.
func (r *Recorder) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Begin assigns an id and writes e as pending. It must succeed before any
// action is dispatched for e.
func (r *Recorder) Begin(ctx context.Context, e *execution.Execution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Status = execution.StatusPending
	e.Owner = r.config.Owner
	if e.StartedAt.IsZero() {
		e.StartedAt = r.now().UTC()
	}
	if e.SnapshotHash == "" {
		e.SnapshotHash = HashSnapshot(e.Snapshot)
	}

	ctx, cancel := r.writeContext(ctx)
	defer cancel()

	if err := r.storage.Create(ctx, e); err != nil {
		return fmt.Errorf("record pending execution %s: %w", e.ID, err)
	}

	r.logger.Debug("execution pending",
		"execution_id", e.ID,
		"policy_id", e.PolicyID,
		"entity_id", e.Entity.ID,
		"trigger", e.Trigger,
	)
	return nil
}

// Finalize writes e's outcome. The status must not be pending. Returns
// execution.ErrImmutable if the stored record was already finalized.
func (r *Recorder) Finalize(ctx context.Context, e *execution.Execution) error {
	if e.Status == execution.StatusPending || !e.Status.Valid() {
		return fmt.Errorf("finalize %s: invalid final status %q", e.ID, e.Status)
	}

	now := r.now().UTC()
	e.CompletedAt = &now
	e.Duration = now.Sub(e.StartedAt)
	for _, res := range e.ActionResults {
		if id, ok := res.Output[action.OutputWorkOrderID].(string); ok && id != "" {
			e.WorkOrderID = id
		}
	}

	wctx, cancel := r.writeContext(ctx)
	defer cancel()

	if err := r.storage.Finalize(wctx, e); err != nil {
		if !errors.Is(err, execution.ErrImmutable) {
			r.logger.Error("failed to finalize execution",
				"execution_id", e.ID,
				"status", e.Status,
				"error", err,
			)
		}
		return err
	}

	r.metrics.RecordExecution(e.PolicyCode, string(e.Trigger), string(e.Status), e.Duration)

	r.logger.Info("execution recorded",
		"execution_id", e.ID,
		"policy_code", e.PolicyCode,
		"entity_id", e.Entity.ID,
		"status", e.Status,
		"matched", e.Matched,
		"duration_ms", e.Duration.Milliseconds(),
	)

	r.publish(ctx, e)
	return nil
}

// Fail finalizes e as failed with the given reason.
func (r *Recorder) Fail(ctx context.Context, e *execution.Execution, reason string) error {
	e.Status = execution.StatusFailed
	e.StatusReason = reason
	return r.Finalize(ctx, e)
}

// Record writes a record that is terminal from the start, such as a
// rejection. It is written pending and finalized immediately so the
// storage contract is the same for every record.
func (r *Recorder) Record(ctx context.Context, e *execution.Execution) error {
	status, reason := e.Status, e.StatusReason
	if err := r.Begin(ctx, e); err != nil {
		return err
	}
	e.Status, e.StatusReason = status, reason
	return r.Finalize(ctx, e)
}

// Resume claims a stale pending record for this instance.
func (r *Recorder) Resume(ctx context.Context, id string) (*execution.Execution, error) {
	ctx, cancel := r.writeContext(ctx)
	defer cancel()
	return r.storage.Resume(ctx, id, r.config.Owner)
}

// Stale returns pending records started more than grace ago.
func (r *Recorder) Stale(ctx context.Context, grace time.Duration) ([]*execution.Execution, error) {
	return r.storage.ListPending(ctx, r.now().Add(-grace))
}

// HasPending reports whether the policy already has a pending execution
// for the entity.
func (r *Recorder) HasPending(ctx context.Context, policyID, entityID string) (bool, error) {
	n, err := r.storage.Count(ctx, &execution.Query{
		PolicyID: policyID,
		EntityID: entityID,
		Statuses: []execution.Status{execution.StatusPending},
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns a record by id.
func (r *Recorder) Get(ctx context.Context, id string) (*execution.Execution, error) {
	return r.storage.Get(ctx, id)
}

// Query returns records matching q.
func (r *Recorder) Query(ctx context.Context, q *execution.Query) ([]*execution.Execution, error) {
	if err := execution.ValidateQuery(q); err != nil {
		return nil, err
	}
	return r.storage.Query(ctx, q)
}

// Count returns the number of records matching q.
func (r *Recorder) Count(ctx context.Context, q *execution.Query) (int64, error) {
	if err := execution.ValidateQuery(q); err != nil {
		return 0, err
	}
	return r.storage.Count(ctx, q)
}

// Close drains queued events and stops the worker.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		r.logger.Info("shutting down execution recorder")
		r.closeMu.Lock()
		r.closed = true
		r.closeMu.Unlock()

		close(r.done)
		r.wg.Wait()
	})
	return nil
}

func (r *Recorder) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.config.WriteTimeout)
}

func (r *Recorder) publish(ctx context.Context, e *execution.Execution) {
	if r.events == nil {
		r.deliver(context.WithoutCancel(ctx), e)
		return
	}

	r.closeMu.RLock()
	if r.closed {
		r.closeMu.RUnlock()
		r.deliver(context.WithoutCancel(ctx), e)
		return
	}
	// The worker keeps draining until Close holds closeMu, so this send
	// cannot block forever.
	r.events <- e
	r.closeMu.RUnlock()
}

// worker drains the event channel and delivers events to listeners.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.events:
			r.deliver(context.Background(), e)

		case <-r.done:
			for {
				select {
				case e := <-r.events:
					r.deliver(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) deliver(ctx context.Context, e *execution.Execution) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("execution listener panicked",
						"execution_id", e.ID,
						"panic", p,
					)
				}
			}()
			l.OnExecution(ctx, e)
		}()
	}
}
