// Package errors defines the stable error taxonomy surfaced by the
// orchestration core. Every error that crosses the lifecycle facade boundary
// is mapped to one of the types below.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrConfigValidation is returned when a server config is rejected before any backend call
	ErrConfigValidation = "config_validation"

	// ErrBackendUnavailable is returned when neither backend is healthy
	ErrBackendUnavailable = "backend_unavailable"

	// ErrPodCreation is returned when the backend fails to create the compute unit
	ErrPodCreation = "pod_creation"

	// ErrReadinessTimeout is returned when a compute unit never signals readiness
	ErrReadinessTimeout = "readiness_timeout"

	// ErrStream is returned on unrecoverable frame corruption or exhausted reconnection attempts
	ErrStream = "stream"

	// ErrNotFound is returned for operations on unknown or already-terminated identifiers.
	// It is informational, not fatal.
	ErrNotFound = "not_found"

	// ErrUnsupportedOperation is returned when an operation does not exist for a transport variant
	ErrUnsupportedOperation = "unsupported_operation"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Creation failure sub-causes carried by pod_creation errors.
const (
	// CauseQuotaExceeded indicates the namespace or host rejected the unit for quota reasons
	CauseQuotaExceeded = "quota_exceeded"

	// CausePermissionDenied indicates the backend lacked permission to create the unit
	CausePermissionDenied = "permission_denied"

	// CauseImagePullFailure indicates the unit's image could not be pulled
	CauseImagePullFailure = "image_pull_failure"
)

// Error represents an error in the orchestration core
type Error struct {
	// Type is the error type
	Type string

	// SubCause is an optional machine-readable refinement of Type
	SubCause string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigValidationError creates a new config validation error
func NewConfigValidationError(message string, cause error) *Error {
	return NewError(ErrConfigValidation, message, cause)
}

// NewBackendUnavailableError creates a new backend unavailable error
func NewBackendUnavailableError(message string, cause error) *Error {
	return NewError(ErrBackendUnavailable, message, cause)
}

// NewPodCreationError creates a new pod creation error with a sub-cause.
// subCause may be empty when the failure does not match a known cause.
func NewPodCreationError(subCause, message string, cause error) *Error {
	return &Error{
		Type:     ErrPodCreation,
		SubCause: subCause,
		Message:  message,
		Cause:    cause,
	}
}

// NewReadinessTimeoutError creates a new readiness timeout error
func NewReadinessTimeoutError(message string, cause error) *Error {
	return NewError(ErrReadinessTimeout, message, cause)
}

// NewStreamError creates a new stream error
func NewStreamError(message string, cause error) *Error {
	return NewError(ErrStream, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewUnsupportedOperationError creates a new unsupported operation error
func NewUnsupportedOperationError(message string, cause error) *Error {
	return NewError(ErrUnsupportedOperation, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsConfigValidation checks if the error is a config validation error
func IsConfigValidation(err error) bool {
	return isType(err, ErrConfigValidation)
}

// IsBackendUnavailable checks if the error is a backend unavailable error
func IsBackendUnavailable(err error) bool {
	return isType(err, ErrBackendUnavailable)
}

// IsPodCreation checks if the error is a pod creation error
func IsPodCreation(err error) bool {
	return isType(err, ErrPodCreation)
}

// IsReadinessTimeout checks if the error is a readiness timeout error
func IsReadinessTimeout(err error) bool {
	return isType(err, ErrReadinessTimeout)
}

// IsStream checks if the error is a stream error
func IsStream(err error) bool {
	return isType(err, ErrStream)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrNotFound)
}

// IsUnsupportedOperation checks if the error is an unsupported operation error
func IsUnsupportedOperation(err error) bool {
	return isType(err, ErrUnsupportedOperation)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}

// AsError assigns the taxonomy error wrapped anywhere in err's chain to
// target, reporting whether one was found.
func AsError(err error, target **Error) bool {
	return errors.As(err, target)
}

// SubCauseOf returns the sub-cause of a pod creation error, or an empty
// string when the error carries none.
func SubCauseOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.SubCause
	}
	return ""
}
