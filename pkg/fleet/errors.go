package fleet

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrEntityNotFound is returned when a referenced entity no longer exists.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrTransient marks failures that may succeed on retry.
	ErrTransient = errors.New("transient collaborator failure")
)

// CollaboratorError describes a failed call to an external service.
type CollaboratorError struct {
	Service    string
	Operation  string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *CollaboratorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Service, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is worth retrying.
func (e *CollaboratorError) Temporary() bool {
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return true
	}
	return IsTransient(e.Err)
}

// NewCollaboratorError creates a new collaborator error.
func NewCollaboratorError(service, operation string, statusCode int, err error) *CollaboratorError {
	return &CollaboratorError{
		Service:    service,
		Operation:  operation,
		StatusCode: statusCode,
		Err:        err,
	}
}

// IsTransient classifies an error as network/timeout class.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
