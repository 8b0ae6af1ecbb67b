package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass classifies an error for abort, retry and reporting decisions.
type ErrorClass string

const (
	// ErrorClassProbe indicates the current state of a resource could not be read.
	// Probe errors abort the run before planning.
	ErrorClassProbe ErrorClass = "probe"

	// ErrorClassValidation indicates the desired state is malformed.
	// Validation errors abort the run before planning.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassTransient indicates an execution failure that may succeed on retry.
	// Examples: package mirror timeouts, registry pulls, container runtime hiccups.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassDeterministic indicates an execution failure that would repeat identically.
	// Examples: unwritable target directory, invalid template output.
	ErrorClassDeterministic ErrorClass = "deterministic"

	// ErrorClassCancelled indicates the run was cancelled before the work started.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Error codes for programmatic handling.
const (
	ErrCodeValidation       = "validation_failed"
	ErrCodeDuplicateID      = "duplicate_id"
	ErrCodeUnknownKind      = "unknown_kind"
	ErrCodeMissingDep       = "missing_dependency"
	ErrCodeCycle            = "dependency_cycle"
	ErrCodePolicyDenied     = "policy_denied"
	ErrCodeToolMissing      = "tool_missing"
	ErrCodePermission       = "permission_denied"
	ErrCodeProbeFailed      = "probe_failed"
	ErrCodeCommandFailed    = "command_failed"
	ErrCodeDependencyFailed = "dependency_failed"
	ErrCodeCancelled        = "cancelled"
)

// Error represents a classified engine error with context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource ID that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the action being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same class and code.
// An empty code on the target matches any code of that class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Class != t.Class {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *Error {
	return &Error{Class: class, Message: message, Err: err}
}

// NewProbeError creates an error for a state query that could not run.
func NewProbeError(message string, err error) *Error {
	return newError(ErrorClassProbe, message, err).WithCode(ErrCodeProbeFailed)
}

// NewValidationError creates an error for malformed desired state.
func NewValidationError(message string, err error) *Error {
	return newError(ErrorClassValidation, message, err).WithCode(ErrCodeValidation)
}

// NewTransientError creates a retryable execution error.
func NewTransientError(message string, err error) *Error {
	return newError(ErrorClassTransient, message, err)
}

// NewDeterministicError creates a non-retryable execution error.
func NewDeterministicError(message string, err error) *Error {
	return newError(ErrorClassDeterministic, message, err)
}

// NewCancelledError creates an error for work abandoned by cancellation.
func NewCancelledError(message string, err error) *Error {
	return newError(ErrorClassCancelled, message, err).WithCode(ErrCodeCancelled)
}

// NewToolMissingError reports that a host tool required to probe or apply is absent.
// The State Reader downgrades it to "absent" when a desired package provides the tool.
func NewToolMissingError(tool string, err error) *Error {
	return NewProbeError(fmt.Sprintf("required tool %q not found", tool), err).
		WithCode(ErrCodeToolMissing).
		WithDetail("tool", tool)
}

// WithResource sets the resource ID on the error.
func (e *Error) WithResource(resourceID string) *Error {
	e.Resource = resourceID
	return e
}

// WithOperation sets the operation on the error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail key-value pair.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first *Error in err's chain.
// Context cancellation maps to ErrorClassCancelled; any other unclassified
// error is treated as deterministic.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Class
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassCancelled
	}
	return ErrorClassDeterministic
}

// IsProbe reports whether err is a probe error.
func IsProbe(err error) bool {
	return ClassOf(err) == ErrorClassProbe
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return ClassOf(err) == ErrorClassValidation
}

// IsTransient reports whether err is a transient execution error.
func IsTransient(err error) bool {
	return ClassOf(err) == ErrorClassTransient
}

// IsCancelled reports whether err stems from cancellation.
func IsCancelled(err error) bool {
	return ClassOf(err) == ErrorClassCancelled
}

// IsRetryable reports whether an execution error may be retried.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}

// ToolOf returns the missing tool name when err is a tool-missing probe error.
func ToolOf(err error) (string, bool) {
	var engineErr *Error
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeToolMissing {
		return "", false
	}
	tool, ok := engineErr.Details["tool"]
	return tool, ok
}
