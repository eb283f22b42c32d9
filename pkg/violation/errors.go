package violation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a violation does not exist.
	ErrNotFound = errors.New("violation not found")

	// ErrDuplicate is returned when a violation was already recorded for
	// the same execution action.
	ErrDuplicate = errors.New("violation already recorded")

	// ErrConflict is returned when a concurrent update won.
	ErrConflict = errors.New("violation was modified concurrently")

	// ErrInvalidTransition is wrapped by every TransitionError.
	ErrInvalidTransition = errors.New("invalid violation transition")

	// ErrAppealWindowClosed is returned when appealing after the deadline.
	ErrAppealWindowClosed = errors.New("appeal window has closed")

	// ErrUnknownCommand is returned by Apply for an unrecognised command name.
	ErrUnknownCommand = errors.New("unknown violation command")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	From   State
	To     State
	Reason string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot move violation from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot move violation from %s to %s", e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to State, reason string) *TransitionError {
	return &TransitionError{From: from, To: to, Reason: reason}
}
