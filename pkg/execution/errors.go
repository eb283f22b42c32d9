package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an execution does not exist.
	ErrNotFound = errors.New("execution not found")

	// ErrImmutable is returned when writing to a finalized record.
	ErrImmutable = errors.New("execution record is immutable")

	// ErrNotAwaitingApproval is returned when approving or rejecting a
	// record that is not awaiting approval.
	ErrNotAwaitingApproval = errors.New("execution is not awaiting approval")
)

// QueryError represents an invalid execution query.
type QueryError struct {
	Query *Query
	Cause error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// NewQueryError creates a new QueryError.
func NewQueryError(query *Query, cause error) *QueryError {
	return &QueryError{Query: query, Cause: cause}
}

// ValidateQuery checks a query before it reaches a backend.
func ValidateQuery(q *Query) error {
	if q == nil {
		return nil
	}
	if q.Limit < 0 || q.Offset < 0 {
		return NewQueryError(q, errors.New("limit and offset must be non-negative"))
	}
	if q.StartTime != nil && q.EndTime != nil && q.EndTime.Before(*q.StartTime) {
		return NewQueryError(q, errors.New("end time is before start time"))
	}
	if q.SortOrder != "" && q.SortOrder != "asc" && q.SortOrder != "desc" {
		return NewQueryError(q, fmt.Errorf("invalid sort order %q", q.SortOrder))
	}
	for _, s := range q.Statuses {
		if !s.Valid() {
			return NewQueryError(q, fmt.Errorf("invalid status %q", s))
		}
	}
	return nil
}
