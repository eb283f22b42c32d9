package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fleetguard/warden/pkg/compliance"
	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/scheduler"
	"fleetguard/warden/pkg/violation"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

type executionList struct {
	Executions []*execution.Execution `json:"executions"`
	Total      int64                  `json:"total"`
	Limit      int                    `json:"limit"`
	Offset     int                    `json:"offset"`
}

type executionIDs struct {
	ExecutionIDs []string `json:"execution_ids"`
}

type decisionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

type decisionResponse struct {
	ExecutionID string `json:"execution_id"`
}

type runRequest struct {
	EntityID string `json:"entity_id,omitempty"`
}

type auditRequest struct {
	Type compliance.AuditType `json:"type,omitempty"`
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	q, err := parseExecutionQuery(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	records, err := s.deps.Executions.Query(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	countQuery := *q
	countQuery.Limit, countQuery.Offset = 0, 0
	total, err := s.deps.Executions.Count(r.Context(), &countQuery)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if records == nil {
		records = []*execution.Execution{}
	}
	writeJSON(w, http.StatusOK, executionList{Executions: records, Total: total, Limit: q.Limit, Offset: q.Offset})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Executions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) approveExecution(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decode(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Actor == "" {
		s.fail(w, r, invalid("actor is required"))
		return
	}
	id, err := s.deps.Runner.Approve(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, decisionResponse{ExecutionID: id})
}

func (s *Server) rejectExecution(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decode(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Actor == "" {
		s.fail(w, r, invalid("actor is required"))
		return
	}
	id, err := s.deps.Runner.Reject(r.Context(), r.PathValue("id"), req.Actor, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, decisionResponse{ExecutionID: id})
}

func (s *Server) runPolicy(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decode(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := s.deps.Runner.RunNow(r.Context(), r.PathValue("id"), req.EntityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusAccepted, executionIDs{ExecutionIDs: ids})
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	var ev scheduler.Event
	if err := decode(r, &ev, true); err != nil {
		s.fail(w, r, err)
		return
	}
	if ev.Name == "" {
		s.fail(w, r, invalid("name is required"))
		return
	}
	ids, err := s.deps.Runner.HandleEvent(r.Context(), ev)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusAccepted, executionIDs{ExecutionIDs: ids})
}

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := &violation.Query{
		TenantID:    v.Get("tenant_id"),
		PolicyID:    v.Get("policy_id"),
		SubjectType: fleet.EntityType(v.Get("subject_type")),
		SubjectID:   v.Get("subject_id"),
		OpenOnly:    v.Get("state") != "all",
	}
	if q.SubjectID != "" && q.SubjectType == "" {
		s.fail(w, r, invalid("subject_type is required with subject_id"))
		return
	}
	var err error
	if q.Limit, q.Offset, err = parsePage(v); err != nil {
		s.fail(w, r, err)
		return
	}

	list, err := s.deps.Violations.Query(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*violation.Violation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"violations": list})
}

func (s *Server) getViolation(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Violations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) transitionViolation(w http.ResponseWriter, r *http.Request) {
	var cmd violation.Command
	if err := decode(r, &cmd, true); err != nil {
		s.fail(w, r, err)
		return
	}
	if cmd.Name == "" || cmd.Actor == "" {
		s.fail(w, r, invalid("command and actor are required"))
		return
	}
	v, err := s.deps.Violations.Apply(r.Context(), r.PathValue("id"), cmd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) latestAudit(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Audits.Latest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) runAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := decode(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	typ := req.Type
	if typ == "" {
		typ = s.deps.DefaultAuditType
	}
	if !typ.Valid() {
		s.fail(w, r, invalid("unknown audit type "+string(typ)))
		return
	}
	a, err := s.deps.Audits.Audit(r.Context(), r.PathValue("id"), typ)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// decode reads a JSON body. An empty body is accepted unless required.
func decode(r *http.Request, dst interface{}, required bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if required {
				return invalid("request body is required")
			}
			return nil
		}
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return invalid("invalid request body: " + err.Error())
	}
	return nil
}

func parseExecutionQuery(v url.Values) (*execution.Query, error) {
	q := &execution.Query{
		TenantID:   v.Get("tenant_id"),
		PolicyID:   v.Get("policy_id"),
		PolicyCode: v.Get("policy_code"),
		EntityType: fleet.EntityType(v.Get("entity_type")),
		EntityID:   v.Get("entity_id"),
		Trigger:    execution.Trigger(v.Get("trigger")),
		ParentID:   v.Get("parent_id"),
		SortOrder:  v.Get("sort"),
	}
	if status := v.Get("status"); status != "" {
		for _, st := range strings.Split(status, ",") {
			q.Statuses = append(q.Statuses, execution.Status(strings.TrimSpace(st)))
		}
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start", &q.StartTime}, {"end", &q.EndTime}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, invalid(p.name + " must be an RFC3339 timestamp")
		}
		*p.dst = &ts
	}

	var err error
	if q.Limit, q.Offset, err = parsePage(v); err != nil {
		return nil, err
	}
	return q, nil
}

func parsePage(v url.Values) (limit, offset int, err error) {
	limit = defaultPageSize
	if raw := v.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			return 0, 0, invalid("limit must be a positive integer")
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}
	if raw := v.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, invalid("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
