package action

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned when no handler is registered for a type.
	ErrUnknownType = errors.New("unknown action type")

	// ErrInvalidParameters is returned for missing or malformed parameters.
	ErrInvalidParameters = errors.New("invalid action parameters")

	// ErrNotConfigured is returned when a handler's collaborator is nil.
	ErrNotConfigured = errors.New("collaborator not configured")
)

// ActionError describes a failed action attempt.
type ActionError struct {
	Type    Type
	Index   int
	Attempt int
	Err     error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s) attempt %d: %v", e.Index, e.Type, e.Attempt, e.Err)
}

// Unwrap returns the underlying error.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// NewActionError creates a new action error.
func NewActionError(t Type, index, attempt int, err error) *ActionError {
	return &ActionError{Type: t, Index: index, Attempt: attempt, Err: err}
}

func invalidParam(t Type, name, reason string) error {
	return fmt.Errorf("%w: %s.%s %s", ErrInvalidParameters, t, name, reason)
}
