package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound marks an absent snapshot, job or bucket. Callers distinguish
// it from operational failure with errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed request. It is never retried and maps
// to a client error at the API boundary.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError is ErrNotFound with the resource identity attached.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StorageOperationError wraps a failed storage call with enough context to
// diagnose it without reproducing: the operation, the backend identity and
// the key involved.
type StorageOperationError struct {
	Op        string
	Backend   string
	Key       string
	Retryable bool
	Err       error
}

func (e *StorageOperationError) Error() string {
	return fmt.Sprintf("storage %s on %s (key=%q): %v", e.Op, e.Backend, e.Key, e.Err)
}

func (e *StorageOperationError) Unwrap() error { return e.Err }

// TransientExternalError marks a fetch-side failure that is worth retrying.
// StatusCode is zero when the failure happened below the HTTP layer.
type TransientExternalError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *TransientExternalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error from %s (status %d): %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient error from %s: %v", e.Source, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// HTTPStatus exposes the upstream status code for classification.
func (e *TransientExternalError) HTTPStatus() int { return e.StatusCode }

// HTTPStatusError is a plain upstream HTTP failure carrying its status code.
type HTTPStatusError struct {
	Source     string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Source, e.StatusCode)
}

// HTTPStatus exposes the status code for classification.
func (e *HTTPStatusError) HTTPStatus() int { return e.StatusCode }

// CodedError attaches a machine-readable error code string (connection_reset,
// permission_denied, ...) to an underlying error.
type CodedError struct {
	Code string
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *CodedError) Unwrap() error { return e.Err }

// ErrorCode exposes the code string for classification.
func (e *CodedError) ErrorCode() string { return e.Code }
