package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a template does not exist.
	ErrNotFound = errors.New("policy not found")

	// ErrImmutable is returned when a structural change targets a
	// non-draft version.
	ErrImmutable = errors.New("policy version is immutable")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid policy status transition")
)

// ValidationError lists the problems found in a template.
type ValidationError struct {
	Code     string
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("policy %s is invalid: %s", e.Code, e.Problems[0])
	}
	return fmt.Sprintf("policy %s is invalid: %d problems, first: %s", e.Code, len(e.Problems), e.Problems[0])
}

// NewValidationError creates a new validation error.
func NewValidationError(code string, problems []string) *ValidationError {
	return &ValidationError{Code: code, Problems: problems}
}
