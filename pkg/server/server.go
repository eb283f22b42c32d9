package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"fleetguard/warden/pkg/compliance"
	"fleetguard/warden/pkg/config"
	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/scheduler"
	"fleetguard/warden/pkg/telemetry/health"
	"fleetguard/warden/pkg/violation"
)

// Executions reads the execution ledger.
type Executions interface {
	Get(ctx context.Context, id string) (*execution.Execution, error)
	Query(ctx context.Context, q *execution.Query) ([]*execution.Execution, error)
	Count(ctx context.Context, q *execution.Query) (int64, error)
}

// Runner starts executions.
type Runner interface {
	RunNow(ctx context.Context, policyID, entityID string) ([]string, error)
	HandleEvent(ctx context.Context, ev scheduler.Event) ([]string, error)
	Approve(ctx context.Context, id, actor string) (string, error)
	Reject(ctx context.Context, id, actor, reason string) (string, error)
}

// Violations reads and advances violation cases.
type Violations interface {
	Get(ctx context.Context, id string) (*violation.Violation, error)
	Query(ctx context.Context, q *violation.Query) ([]*violation.Violation, error)
	Apply(ctx context.Context, id string, cmd violation.Command) (*violation.Violation, error)
}

// Audits runs and reads compliance audits.
type Audits interface {
	Audit(ctx context.Context, policyID string, typ compliance.AuditType) (*compliance.Audit, error)
	Latest(ctx context.Context, policyID string) (*compliance.Audit, error)
}

// Dependencies are the services behind the API. Health, Metrics and
// Version are optional.
type Dependencies struct {
	Executions Executions
	Runner     Runner
	Violations Violations
	Audits     Audits

	// DefaultAuditType is used when POST /audits names no type.
	DefaultAuditType compliance.AuditType

	Health       *health.Checker
	HealthConfig *config.HealthConfig
	Version      health.VersionInfo

	Metrics     http.Handler
	MetricsPath string
}

// Server serves the API on the configured listen address.
type Server struct {
	config     *config.APIConfig
	deps       Dependencies
	handler    http.Handler
	logger     *slog.Logger
	mu         sync.Mutex
	httpServer *http.Server
	running    bool
}

// New creates a server. The handler chain is built once.
func New(cfg *config.APIConfig, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}
	if deps.Executions == nil || deps.Runner == nil || deps.Violations == nil || deps.Audits == nil {
		return nil, errors.New("executions, runner, violations and audits are required")
	}
	if deps.DefaultAuditType == "" {
		deps.DefaultAuditType = compliance.AuditDaily
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: slog.Default().With("component", "server"),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until ctx is cancelled, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting api server", "address", s.config.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	running := s.running
	s.running = false
	s.mu.Unlock()

	if !running || srv == nil {
		return nil
	}

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	s.logger.Info("shutting down api server", "timeout", s.config.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// IsRunning reports whether the listener is up.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/executions", s.listExecutions)
	mux.HandleFunc("GET /v1/executions/{id}", s.getExecution)
	mux.HandleFunc("POST /v1/executions/{id}/approve", s.approveExecution)
	mux.HandleFunc("POST /v1/executions/{id}/reject", s.rejectExecution)
	mux.HandleFunc("POST /v1/policies/{id}/run", s.runPolicy)
	mux.HandleFunc("POST /v1/events", s.postEvent)
	mux.HandleFunc("GET /v1/violations", s.listViolations)
	mux.HandleFunc("GET /v1/violations/{id}", s.getViolation)
	mux.HandleFunc("POST /v1/violations/{id}/transitions", s.transitionViolation)
	mux.HandleFunc("GET /v1/policies/{id}/audits/latest", s.latestAudit)
	mux.HandleFunc("POST /v1/policies/{id}/audits", s.runAudit)

	checker := s.deps.Health
	if checker == nil {
		checker = health.New(0)
	}
	checker.Register(mux, s.deps.HealthConfig, s.deps.Version)

	if s.deps.Metrics != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, s.deps.Metrics)
	}

	var handler http.Handler = mux
	handler = maxBodyMiddleware(s.config.MaxBodyBytes)(handler)
	handler = accessLogMiddleware(s.logger)(handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger)(handler)
	return handler
}
