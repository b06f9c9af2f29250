// Package engine provides the core types for the stackpilot provisioning
// engine: the desired/observed state model, the planner that bridges the two,
// and the executor that applies plans through a resource provider.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for retry and exit-code handling.
type ErrorClass string

const (
	// ErrorClassSpec indicates a malformed desired-state description.
	// Raised before any provider or state-store side effect, never retried.
	ErrorClassSpec ErrorClass = "spec"

	// ErrorClassTransient indicates a temporary provider failure that may
	// succeed on retry. Examples: timeouts, rate limits, brief unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable provider failure.
	// Examples: invalid attributes, permission denied, quota exceeded.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassState indicates an I/O failure in the state store. Fatal for
	// the invocation: the executor aborts rather than guess at state.
	ErrorClassState ErrorClass = "state"
)

// Error is a classified error with resource and operation context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource id that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)", e.Class, msg, e.Resource, e.Operation)
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Class, msg, e.Resource)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewSpecError creates a new spec error.
func NewSpecError(message string, err error) *Error {
	return &Error{Class: ErrorClassSpec, Message: message, Err: err}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewStateError creates a new state-store error.
func NewStateError(message string, err error) *Error {
	return &Error{Class: ErrorClassState, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resourceID string) *Error {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// classOf returns the class of err, or an empty class for unclassified errors.
func classOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsSpec returns true if the error is classified as a spec error.
func IsSpec(err error) bool {
	return classOf(err) == ErrorClassSpec
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return classOf(err) == ErrorClassTransient
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return classOf(err) == ErrorClassPermanent
}

// IsStateStore returns true if the error is classified as a state-store error.
func IsStateStore(err error) bool {
	return classOf(err) == ErrorClassState
}

// IsRetryable returns true if the error can be retried. Only transient
// provider errors are retry-eligible.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// IsNotFound returns true if the error carries the not-found code.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeNotFound
	}
	return false
}

// ExitCode maps an error to the process exit code for the CLI: one distinct
// code per error class.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch classOf(err) {
	case ErrorClassSpec:
		return 2
	case ErrorClassTransient:
		return 3
	case ErrorClassPermanent:
		return 4
	case ErrorClassState:
		return 5
	default:
		return 1
	}
}

// Common error codes.
const (
	ErrCodeCycle             = "CYCLE"
	ErrCodeUnknownDependency = "UNKNOWN_DEPENDENCY"
	ErrCodeDuplicateID       = "DUPLICATE_ID"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeProviderFailed    = "PROVIDER_FAILED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStateIO           = "STATE_IO"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
