package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/telemetry/metrics"
	"fleetguard/warden/pkg/telemetry/tracing"
)

// Config controls retries, timeouts and dispatch rate.
type Config struct {
	// ActionTimeout bounds a single attempt of a single action.
	ActionTimeout time.Duration

	// MaxAttempts bounds attempts per action, including the first.
	MaxAttempts int

	// BackoffBase is the delay before the first retry. It doubles on each
	// further retry up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// RateLimit caps collaborator calls per second across all executions.
	// Zero disables throttling.
	RateLimit float64
	Burst     int
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() *Config {
	return &Config{
		ActionTimeout: 30 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   200 * time.Millisecond,
		BackoffMax:    5 * time.Second,
		RateLimit:     50,
		Burst:         10,
	}
}

// Executor runs action lists.
type Executor struct {
	registry *Registry
	config   *Config
	limiter  *rate.Limiter
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewExecutor creates an executor. A nil config uses DefaultConfig.
func NewExecutor(registry *Registry, cfg *Config) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Executor{
		registry: registry,
		config:   cfg,
		limiter:  limiter,
		tracer:   otel.Tracer("fleetguard/warden/action"),
		logger:   slog.Default().With("component", "action.executor"),
	}
}

// SetMetrics attaches a metrics collector.
func (e *Executor) SetMetrics(m *metrics.Collector) {
	e.metrics = m
}

// Registry returns the handler registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs actions in order against the chaining context. It never
// returns an error: every failure is reported in the Outcome.
func (e *Executor) Execute(ctx context.Context, actions []Action, actx *Context) *Outcome {
	out := &Outcome{Results: make([]Result, 0, len(actions))}

	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			out.Aborted = true
			if errors.Is(err, context.DeadlineExceeded) {
				out.TimedOut = true
				out.AbortReason = "execution timeout exceeded"
			} else {
				out.Cancelled = true
				out.AbortReason = "execution cancelled"
			}
			out.appendNotAttempted(actions, i, out.AbortReason)
			break
		}

		res := e.run(ctx, i, a, actx)
		out.Results = append(out.Results, res)

		if res.Status == StatusFailed && a.Required {
			out.Aborted = true
			out.AbortReason = fmt.Sprintf("required action %d (%s) failed: %s", i, a.Type, res.Error)
			out.appendNotAttempted(actions, i+1, "aborted after required action failure")
			break
		}
	}

	// The ceiling applies even when every action completed.
	if !out.Aborted && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.Aborted = true
		out.TimedOut = true
		out.AbortReason = "execution timeout exceeded"
	}

	return out
}

// Skip records every action as skipped without dispatching it.
func Skip(actions []Action, reason string) *Outcome {
	out := &Outcome{Results: make([]Result, 0, len(actions))}
	for i, a := range actions {
		out.Results = append(out.Results, Result{
			Index:    i,
			Action:   a.Type,
			Required: a.Required,
			Status:   StatusSkipped,
			Error:    reason,
		})
	}
	return out
}

func (o *Outcome) appendNotAttempted(actions []Action, from int, reason string) {
	for i := from; i < len(actions); i++ {
		o.Results = append(o.Results, Result{
			Index:    i,
			Action:   actions[i].Type,
			Required: actions[i].Required,
			Status:   StatusNotAttempted,
			Error:    reason,
		})
	}
}

func (e *Executor) run(ctx context.Context, index int, a Action, actx *Context) Result {
	start := time.Now()
	res := Result{
		Index:     index,
		Action:    a.Type,
		Required:  a.Required,
		StartedAt: start,
	}

	ctx, span := e.tracer.Start(ctx, "policy.action", trace.WithAttributes(
		attribute.String(tracing.AttrActionType, string(a.Type)),
		attribute.Int(tracing.AttrActionIndex, index),
		attribute.Bool(tracing.AttrActionRequired, a.Required),
		attribute.String(tracing.AttrExecutionID, actx.ExecutionID),
	))
	defer span.End()

	finish := func(status Status, err error) Result {
		res.Status = status
		res.Duration = time.Since(start)
		if res.Attempts > 0 {
			res.Retries = res.Attempts - 1
		}
		if err != nil {
			res.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int(tracing.AttrActionAttempts, res.Attempts))
		e.metrics.RecordAction(string(a.Type), string(status), res.Retries)
		return res
	}

	handler, ok := e.registry.Lookup(a.Type)
	if !ok {
		return finish(StatusFailed, fmt.Errorf("%w: %q", ErrUnknownType, a.Type))
	}

	params, err := resolveParameters(a.Parameters, actx)
	if err != nil {
		return finish(StatusFailed, err)
	}
	resolved := a
	resolved.Parameters = params

	// A dispatched required action is not interrupted by cancellation of
	// the execution; only its own timeout applies.
	callCtx := ctx
	if a.Required {
		callCtx = context.WithoutCancel(ctx)
	}

	timeout := e.config.ActionTimeout
	if a.Timeout > 0 {
		timeout = a.Timeout
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(callCtx); err != nil {
				lastErr = err
				break
			}
		}

		res.Attempts = attempt
		attemptCtx, cancel := context.WithTimeout(callCtx, timeout)
		output, err := handler.Handle(attemptCtx, Request{
			Index:          index,
			Action:         resolved,
			IdempotencyKey: actx.IdempotencyKey(index),
			Context:        actx,
		})
		cancel()

		if err == nil {
			res.Output = output
			actx.record(output)
			return finish(StatusSucceeded, nil)
		}

		lastErr = NewActionError(a.Type, index, attempt, err)
		if !fleet.IsTransient(err) || callCtx.Err() != nil || attempt == e.config.MaxAttempts {
			break
		}

		e.logger.Warn("action attempt failed, retrying",
			"execution_id", actx.ExecutionID,
			"action", a.Type,
			"index", index,
			"attempt", attempt,
			"error", err)

		if err := sleep(callCtx, e.backoff(attempt)); err != nil {
			break
		}
	}

	e.logger.Error("action failed",
		"execution_id", actx.ExecutionID,
		"action", a.Type,
		"index", index,
		"required", a.Required,
		"attempts", res.Attempts,
		"error", lastErr)

	return finish(StatusFailed, lastErr)
}

// backoff returns the delay after the given attempt: base * 2^(attempt-1),
// capped, with up to 20% jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.config.BackoffBase << (attempt - 1)
	if e.config.BackoffMax > 0 && (d > e.config.BackoffMax || d <= 0) {
		d = e.config.BackoffMax
	}
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int64N(int64(d)/5 + 1))
	return d + jitter
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
