package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetguard/warden/pkg/compliance"
	"fleetguard/warden/pkg/config"
	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/scheduler"
	"fleetguard/warden/pkg/violation"
)

type fakeExecutions struct {
	records        map[string]*execution.Execution
	lastQuery      *execution.Query
	lastCountQuery *execution.Query
}

func (f *fakeExecutions) Get(_ context.Context, id string) (*execution.Execution, error) {
	e, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, execution.ErrNotFound)
	}
	return e, nil
}

func (f *fakeExecutions) Query(_ context.Context, q *execution.Query) ([]*execution.Execution, error) {
	if err := execution.ValidateQuery(q); err != nil {
		return nil, err
	}
	f.lastQuery = q
	return f.match(q), nil
}

func (f *fakeExecutions) Count(_ context.Context, q *execution.Query) (int64, error) {
	if err := execution.ValidateQuery(q); err != nil {
		return 0, err
	}
	f.lastCountQuery = q
	return int64(len(f.match(q))), nil
}

func (f *fakeExecutions) match(q *execution.Query) []*execution.Execution {
	var out []*execution.Execution
	for _, e := range f.records {
		if q.PolicyID == "" || e.PolicyID == q.PolicyID {
			out = append(out, e)
		}
	}
	return out
}

type fakeRunner struct {
	busy    bool
	decided map[string]bool
	events  []scheduler.Event
}

func (f *fakeRunner) RunNow(_ context.Context, policyID, entityID string) ([]string, error) {
	if policyID == "missing" {
		return nil, policy.ErrNotFound
	}
	if f.busy {
		return nil, scheduler.ErrTargetBusy
	}
	if entityID != "" {
		return []string{"exec-" + entityID}, nil
	}
	return []string{"exec-a", "exec-b"}, nil
}

func (f *fakeRunner) HandleEvent(_ context.Context, ev scheduler.Event) ([]string, error) {
	f.events = append(f.events, ev)
	return nil, nil
}

func (f *fakeRunner) Approve(_ context.Context, id, actor string) (string, error) {
	if f.decided[id] {
		return "", scheduler.ErrAlreadyDecided
	}
	f.decided[id] = true
	return id + "-approved", nil
}

func (f *fakeRunner) Reject(_ context.Context, id, actor, reason string) (string, error) {
	return id + "-rejected", nil
}

type fakeViolations struct {
	cases map[string]*violation.Violation
}

func (f *fakeViolations) Get(_ context.Context, id string) (*violation.Violation, error) {
	v, ok := f.cases[id]
	if !ok {
		return nil, violation.ErrNotFound
	}
	return v, nil
}

func (f *fakeViolations) Query(_ context.Context, q *violation.Query) ([]*violation.Violation, error) {
	var out []*violation.Violation
	for _, v := range f.cases {
		if v.Subject.ID == q.SubjectID && (!q.OpenOnly || v.Open()) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeViolations) Apply(_ context.Context, id string, cmd violation.Command) (*violation.Violation, error) {
	v, ok := f.cases[id]
	if !ok {
		return nil, violation.ErrNotFound
	}
	switch cmd.Name {
	case "acknowledge":
		v.State = violation.StateCaseClosed
		return v, nil
	case "appeal":
		return nil, violation.NewTransitionError(v.State, violation.StateAppealReview, "appeal window has closed")
	default:
		return nil, fmt.Errorf("%w %q", violation.ErrUnknownCommand, cmd.Name)
	}
}

type fakeAudits struct {
	latest map[string]*compliance.Audit
}

func (f *fakeAudits) Audit(_ context.Context, policyID string, typ compliance.AuditType) (*compliance.Audit, error) {
	a := &compliance.Audit{PolicyID: policyID, Type: typ}
	f.latest[policyID] = a
	return a, nil
}

func (f *fakeAudits) Latest(_ context.Context, policyID string) (*compliance.Audit, error) {
	a, ok := f.latest[policyID]
	if !ok {
		return nil, compliance.ErrNotFound
	}
	return a, nil
}

type fixture struct {
	server     *Server
	executions *fakeExecutions
	runner     *fakeRunner
	violations *fakeViolations
	audits     *fakeAudits
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		executions: &fakeExecutions{records: map[string]*execution.Execution{
			"e1": {ID: "e1", PolicyID: "p1", Status: execution.StatusAwaitingApproval, StartedAt: time.Now()},
			"e2": {ID: "e2", PolicyID: "p2", Status: execution.StatusCompleted, StartedAt: time.Now()},
		}},
		runner: &fakeRunner{decided: map[string]bool{}},
		violations: &fakeViolations{cases: map[string]*violation.Violation{
			"v1": {ID: "v1", State: violation.StateEmployeeAcknowledge},
		}},
		audits: &fakeAudits{latest: map[string]*compliance.Audit{}},
	}
	f.violations.cases["v1"].Subject.ID = "d-1"

	srv, err := New(&config.APIConfig{MaxBodyBytes: 1024}, Dependencies{
		Executions:  f.executions,
		Runner:      f.runner,
		Violations:  f.violations,
		Audits:      f.audits,
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) }),
		MetricsPath: "/metrics",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	f.server = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{"list executions", http.MethodGet, "/v1/executions?policy_id=p1", "", http.StatusOK, `"total":1`},
		{"bad status filter", http.MethodGet, "/v1/executions?status=bogus", "", http.StatusBadRequest, "invalid_request"},
		{"bad time", http.MethodGet, "/v1/executions?start=yesterday", "", http.StatusBadRequest, "RFC3339"},
		{"bad limit", http.MethodGet, "/v1/executions?limit=0", "", http.StatusBadRequest, "limit"},
		{"get execution", http.MethodGet, "/v1/executions/e1", "", http.StatusOK, `"id":"e1"`},
		{"missing execution", http.MethodGet, "/v1/executions/nope", "", http.StatusNotFound, "not_found"},
		{"approve", http.MethodPost, "/v1/executions/e1/approve", `{"actor":"ops"}`, http.StatusCreated, "e1-approved"},
		{"approve without actor", http.MethodPost, "/v1/executions/e1/approve", `{}`, http.StatusBadRequest, "actor"},
		{"reject", http.MethodPost, "/v1/executions/e1/reject", `{"actor":"ops","reason":"false alarm"}`, http.StatusCreated, "e1-rejected"},
		{"run whole scope", http.MethodPost, "/v1/policies/p1/run", "", http.StatusAccepted, `["exec-a","exec-b"]`},
		{"run one entity", http.MethodPost, "/v1/policies/p1/run", `{"entity_id":"v-9"}`, http.StatusAccepted, "exec-v-9"},
		{"run missing policy", http.MethodPost, "/v1/policies/missing/run", "", http.StatusNotFound, "not_found"},
		{"unknown field", http.MethodPost, "/v1/policies/p1/run", `{"entity":"v-9"}`, http.StatusBadRequest, "invalid_request"},
		{"event", http.MethodPost, "/v1/events", `{"name":"dvir.submitted","entity_type":"vehicle","entity_id":"v-1"}`, http.StatusAccepted, `"execution_ids":[]`},
		{"event without name", http.MethodPost, "/v1/events", `{}`, http.StatusBadRequest, "name"},
		{"list violations", http.MethodGet, "/v1/violations?subject_type=driver&subject_id=d-1", "", http.StatusOK, `"id":"v1"`},
		{"violations subject type", http.MethodGet, "/v1/violations?subject_id=d-1", "", http.StatusBadRequest, "subject_type"},
		{"get violation", http.MethodGet, "/v1/violations/v1", "", http.StatusOK, `"id":"v1"`},
		{"transition", http.MethodPost, "/v1/violations/v1/transitions", `{"command":"acknowledge","actor":"d-1"}`, http.StatusOK, "case_closed"},
		{"invalid transition", http.MethodPost, "/v1/violations/v1/transitions", `{"command":"appeal","actor":"d-1"}`, http.StatusConflict, "invalid_transition"},
		{"unknown command", http.MethodPost, "/v1/violations/v1/transitions", `{"command":"pardon","actor":"d-1"}`, http.StatusBadRequest, "invalid_request"},
		{"latest audit missing", http.MethodGet, "/v1/policies/p1/audits/latest", "", http.StatusNotFound, "not_found"},
		{"run audit", http.MethodPost, "/v1/policies/p1/audits", `{"type":"weekly"}`, http.StatusCreated, `"weekly"`},
		{"bad audit type", http.MethodPost, "/v1/policies/p1/audits", `{"type":"hourly"}`, http.StatusBadRequest, "hourly"},
		{"wrong method", http.MethodDelete, "/v1/executions/e1", "", http.StatusMethodNotAllowed, ""},
		{"health", http.MethodGet, "/health", "", http.StatusOK, `"ok"`},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, "ok"},
		{"body too large", http.MethodPost, "/v1/events", `{"name":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge, "body_too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %s does not contain %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestApproveTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, "/v1/executions/e1/approve", `{"actor":"ops"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first approve = %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/v1/executions/e1/approve", `{"actor":"ops"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second approve = %d, want 409", rec.Code)
	}
}

func TestRunBusyTarget(t *testing.T) {
	f := newFixture(t)
	f.runner.busy = true
	rec := f.do(t, http.MethodPost, "/v1/policies/p1/run", `{"entity_id":"v-1"}`)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "target_busy") {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestExecutionQueryParsing(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet,
		"/v1/executions?entity_id=v-1&status=completed,failed&trigger=manual&start=2026-01-01T00:00:00Z&limit=5000&offset=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	q := f.executions.lastQuery
	if q.EntityID != "v-1" || len(q.Statuses) != 2 || q.Trigger != execution.TriggerManual {
		t.Errorf("query = %+v", q)
	}
	if q.StartTime == nil || !q.StartTime.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("StartTime = %v", q.StartTime)
	}
	if q.Limit != maxPageSize || q.Offset != 10 {
		t.Errorf("Limit, Offset = %d, %d", q.Limit, q.Offset)
	}

	// The total is counted over the same filters without paging.
	cq := f.executions.lastCountQuery
	if cq == nil || cq.EntityID != "v-1" || len(cq.Statuses) != 2 {
		t.Fatalf("count query = %+v", cq)
	}
	if cq.Limit != 0 || cq.Offset != 0 {
		t.Errorf("count Limit, Offset = %d, %d, want 0, 0", cq.Limit, cq.Offset)
	}
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("no request id generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}

func TestRecovery(t *testing.T) {
	h := recoveryMiddleware(newFixture(t).server.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if body.Error.Code != "internal_error" || strings.Contains(body.Error.Message, "boom") {
		t.Errorf("error body = %+v", body)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(&config.APIConfig{}, Dependencies{}); err == nil {
		t.Error("New() accepted missing dependencies")
	}
	if _, err := New(nil, Dependencies{}); err == nil {
		t.Error("New() accepted nil config")
	}
}

func TestStartShutdown(t *testing.T) {
	f := newFixture(t)
	f.server.config.ListenAddress = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !f.server.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if f.server.IsRunning() {
		t.Error("server still running after shutdown")
	}
}
