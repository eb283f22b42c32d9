package source

import (
	"fmt"
	"strings"
)

// LoadError is a file system failure while reading policy files.
type LoadError struct {
	FilePath string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load policy file %q: %s: %v", e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load policy file %q: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ParseError is a YAML decoding failure.
type ParseError struct {
	FilePath string

	// Document is the 1-based index of the failing document in the file.
	Document int

	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Document > 0 {
		return fmt.Sprintf("parse error in %q document %d: %s: %v", e.FilePath, e.Document, e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error in %q: %s: %v", e.FilePath, e.Message, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ErrorList collects the errors of a multi-file operation.
type ErrorList struct {
	Errors []error
}

// Add appends err when it is not nil.
func (l *ErrorList) Add(err error) {
	if err != nil {
		l.Errors = append(l.Errors, err)
	}
}

// HasErrors reports whether any error was collected.
func (l *ErrorList) HasErrors() bool {
	return len(l.Errors) > 0
}

// Error implements the error interface.
func (l *ErrorList) Error() string {
	if len(l.Errors) == 1 {
		return l.Errors[0].Error()
	}
	msgs := make([]string, len(l.Errors))
	for i, err := range l.Errors {
		msgs[i] = "  - " + err.Error()
	}
	return fmt.Sprintf("%d errors:\n%s", len(l.Errors), strings.Join(msgs, "\n"))
}

// Unwrap returns the collected errors.
func (l *ErrorList) Unwrap() []error {
	return l.Errors
}
