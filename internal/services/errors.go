package services

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorCode string

const (
	ErrorInvalid      ErrorCode = "invalid"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorConflict     ErrorCode = "conflict"
	ErrorUnauthorized ErrorCode = "unauthorized"
)

// ServiceError reports workflow failures that are not engine errors: missing
// records, bad credentials and the like.
type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ValidationError rejects malformed input: bad dates, unknown contract types,
// out-of-range answers, non-positive custom intervals.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// UnknownOptionError is returned when a select answer is not in the
// question's scoring map.
type UnknownOptionError struct {
	QuestionID string
	Option     string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("question %s: unknown option %q", e.QuestionID, e.Option)
}

// UnknownQuestionTypeError is returned for question types the classifier does
// not support.
type UnknownQuestionTypeError struct {
	QuestionID string
	Type       QuestionType
}

func (e *UnknownQuestionTypeError) Error() string {
	return fmt.Sprintf("question %s: unknown question type %q", e.QuestionID, string(e.Type))
}

// IncompleteSubmissionError is returned when completion is requested while
// required questions are still unanswered.
type IncompleteSubmissionError struct {
	SubmissionID string
	Missing      []string
}

func (e *IncompleteSubmissionError) Error() string {
	return fmt.Sprintf("submission %s is missing required answers: %s", e.SubmissionID, strings.Join(e.Missing, ", "))
}

// SchedulingConflictError is raised by stores when an optimistic write finds a
// newer version than the one the caller read.
type SchedulingConflictError struct {
	Entity          string
	ID              string
	ExpectedVersion int64
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently (expected version %d)", e.Entity, e.ID, e.ExpectedVersion)
}

// IsConflict reports whether err carries a SchedulingConflictError.
func IsConflict(err error) bool {
	var ce *SchedulingConflictError
	return errors.As(err, &ce)
}
