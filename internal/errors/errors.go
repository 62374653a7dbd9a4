// Package errors provides the structured error taxonomy for the livegen
// daemon. Errors carry a category, a stable code, and optional node and
// instance context so background failures can be logged per node without
// losing their origin.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeNotFound  ErrorType = "not_found"
	ErrorTypeInput     ErrorType = "input"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeExecution ErrorType = "execution"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeReference ErrorType = "reference"
	ErrorTypeInternal  ErrorType = "internal"
)

// LivegenError is a structured error type with context.
type LivegenError struct {
	Type       ErrorType
	Code       string
	Message    string
	Cause      error
	Context    map[string]interface{}
	NodeID     string
	InstanceID string
}

// Error implements the error interface.
func (e *LivegenError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.NodeID != "" {
		parts = append(parts, "node:"+e.NodeID)
	}
	if e.InstanceID != "" {
		parts = append(parts, "instance:"+e.InstanceID)
	}

	parts = append(parts, e.Message)
	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *LivegenError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by type and code.
func (e *LivegenError) Is(target error) bool {
	var t *LivegenError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithContext adds context information to the error.
func (e *LivegenError) WithContext(key string, value interface{}) *LivegenError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithNode adds node context.
func (e *LivegenError) WithNode(nodeID string) *LivegenError {
	e.NodeID = nodeID
	return e
}

// WithInstance adds instance context.
func (e *LivegenError) WithInstance(instanceID string) *LivegenError {
	e.InstanceID = instanceID
	return e
}

// WithCause attaches an underlying cause.
func (e *LivegenError) WithCause(cause error) *LivegenError {
	e.Cause = cause
	return e
}

// NewConfigError creates a malformed or invalid configuration error.
func NewConfigError(code, message string) *LivegenError {
	return &LivegenError{Type: ErrorTypeConfig, Code: code, Message: message}
}

// NewNotFoundError creates an unknown node/instance/value error.
func NewNotFoundError(code, message string) *LivegenError {
	return &LivegenError{Type: ErrorTypeNotFound, Code: code, Message: message}
}

// NewRequiredInputError creates an error for a required input with no value
// and no default.
func NewRequiredInputError(inputName string) *LivegenError {
	return &LivegenError{
		Type:    ErrorTypeInput,
		Code:    "required_input_missing",
		Message: fmt.Sprintf("required input %q not provided", inputName),
	}
}

// NewTimeoutError creates an execution timeout error. The process has been
// killed and reaped by the time this is raised.
func NewTimeoutError(message string) *LivegenError {
	return &LivegenError{Type: ErrorTypeTimeout, Code: "execution_timeout", Message: message}
}

// NewExecutionError creates a non-zero-exit execution error carrying stderr.
func NewExecutionError(message, stderr string) *LivegenError {
	err := &LivegenError{Type: ErrorTypeExecution, Code: "execution_failed", Message: message}
	if stderr != "" {
		err = err.WithContext("stderr", stderr)
	}
	return err
}

// NewIOError creates a filesystem access error.
func NewIOError(message string, cause error) *LivegenError {
	return &LivegenError{Type: ErrorTypeIO, Code: "io_error", Message: message, Cause: cause}
}

// NewReferenceError creates a dangling "@node.output" resolution error.
func NewReferenceError(reference string) *LivegenError {
	return &LivegenError{
		Type:    ErrorTypeReference,
		Code:    "reference_unresolved",
		Message: fmt.Sprintf("node reference not found: %s", reference),
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string) *LivegenError {
	return &LivegenError{Type: ErrorTypeInternal, Code: code, Message: message}
}

// IsType reports whether err is a LivegenError of the given type.
func IsType(err error, t ErrorType) bool {
	var le *LivegenError
	if errors.As(err, &le) {
		return le.Type == t
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsTimeout reports whether err is an execution timeout.
func IsTimeout(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

// IsRequiredInputMissing reports whether err is a missing required input.
func IsRequiredInputMissing(err error) bool {
	return IsType(err, ErrorTypeInput)
}
