package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStateConflict is returned when a conditional transition matched no row.
	ErrStateConflict = errors.New("statement state changed concurrently")
	// ErrUnauthorized is returned when no valid session is present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the session lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports bad client input. It maps to HTTP 400.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NotFoundError reports a missing resource or one owned by someone else.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Extraction error codes.
const (
	ExtractionUnreadable = "unreadable"
	ExtractionTimeout    = "timeout"
	ExtractionMapping    = "mapping"
	ExtractionFetch      = "fetch"
)

// ExtractionError means the statement file could not be turned into records.
type ExtractionError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("extraction %s: %s", e.Code, e.Message)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// ClassificationError is non-fatal; the record is kept as Uncategorized.
type ClassificationError struct {
	Description string
	Cause       error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %q: %v", e.Description, e.Cause)
}

func (e *ClassificationError) Unwrap() error { return e.Cause }

// PersistenceError wraps a store failure. It is fatal to a pipeline run.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsExtraction reports whether err is or wraps an ExtractionError.
func IsExtraction(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}
