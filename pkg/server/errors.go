package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"fleetguard/warden/pkg/compliance"
	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/scheduler"
	"fleetguard/warden/pkg/violation"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// badRequest marks client input errors raised by the handlers themselves.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func invalid(msg string) error { return &badRequest{msg: msg} }

// statusFor maps domain errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var (
		br        *badRequest
		queryErr  *execution.QueryError
		maxBytes  *http.MaxBytesError
		syntaxErr *json.SyntaxError
	)
	switch {
	case errors.As(err, &br), errors.As(err, &queryErr), errors.As(err, &syntaxErr),
		errors.Is(err, violation.ErrUnknownCommand):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.Is(err, execution.ErrNotFound),
		errors.Is(err, policy.ErrNotFound),
		errors.Is(err, violation.ErrNotFound),
		errors.Is(err, compliance.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, scheduler.ErrTargetBusy):
		return http.StatusConflict, "target_busy"
	case errors.Is(err, scheduler.ErrNotRunnable):
		return http.StatusConflict, "not_runnable"
	case errors.Is(err, scheduler.ErrAlreadyDecided),
		errors.Is(err, execution.ErrNotAwaitingApproval):
		return http.StatusConflict, "already_decided"
	case errors.Is(err, violation.ErrInvalidTransition),
		errors.Is(err, violation.ErrAppealWindowClosed):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, violation.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "an internal error occurred"
	}
	writeError(w, status, code, msg)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
