package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeQueryExhausted means every search variant failed for a request
	ErrTypeQueryExhausted ErrorType = "query_exhausted"
	// ErrTypeToolInvocation means an external tool exited with a failure
	ErrTypeToolInvocation ErrorType = "tool_invocation"
	// ErrTypeTagWrite means a downloaded file could not be tagged
	ErrTypeTagWrite ErrorType = "tag_write"
	// ErrTypeArtworkMismatch means artwork could not be paired with an audio file
	ErrTypeArtworkMismatch ErrorType = "artwork_mismatch"
	// ErrTypeMissingDependency means a required external binary is absent
	ErrTypeMissingDependency ErrorType = "missing_dependency"
	// ErrTypeUnexpected represents any unanticipated failure during a batch
	ErrTypeUnexpected ErrorType = "unexpected"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeFileSystem represents file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeNetwork represents network-related errors
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error

	// StatusCode and RetryAfter are set for HTTP responses that failed
	StatusCode int
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewQueryExhaustedError creates the terminal error of a request whose variants all failed
func NewQueryExhaustedError(message string) *AppError {
	return &AppError{
		Type:    ErrTypeQueryExhausted,
		Message: message,
	}
}

// NewToolInvocationError creates a new tool invocation error
func NewToolInvocationError(tool, message string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeToolInvocation,
		Message: fmt.Sprintf("%s: %s", tool, message),
		Cause:   cause,
	}
}

// NewTagWriteError creates a new tag write error
func NewTagWriteError(path string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTagWrite,
		Message: fmt.Sprintf("failed to tag %s", path),
		Cause:   cause,
	}
}

// NewArtworkMismatchError creates a new artwork mismatch error
func NewArtworkMismatchError(message string) *AppError {
	return &AppError{
		Type:    ErrTypeArtworkMismatch,
		Message: message,
	}
}

// NewMissingDependencyError creates a new missing dependency error
func NewMissingDependencyError(tool string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeMissingDependency,
		Message: fmt.Sprintf("%s not found; install it or set its path in settings", tool),
		Cause:   cause,
	}
}

// NewUnexpectedError creates a new unexpected failure
func NewUnexpectedError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeUnexpected,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: message,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeFileSystem,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeNetwork,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewHTTPStatusError creates the error of an archive request answered with
// status. Throttling and server faults are network errors worth repeating;
// anything else means the URL itself is wrong. retryAfter is the delay the
// server asked for, zero when it sent none.
func NewHTTPStatusError(status int, retryAfter time.Duration) *AppError {
	message := fmt.Sprintf("download failed with status: %d %s", status, http.StatusText(status))
	if status == http.StatusTooManyRequests || status >= 500 {
		appErr := NewNetworkError(message, nil)
		appErr.StatusCode = status
		appErr.RetryAfter = retryAfter
		return appErr
	}
	appErr := NewValidationError(message)
	appErr.StatusCode = status
	return appErr
}

// asAppError finds the first AppError in the chain
func asAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := asAppError(err); ok {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	if appErr, ok := asAppError(err); ok {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// IsMissingDependency checks if an error is a missing dependency error
func IsMissingDependency(err error) bool {
	return GetErrorType(err) == ErrTypeMissingDependency
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	if appErr, ok := asAppError(err); ok {
		return appErr.StatusCode
	}
	return 0
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return GetErrorType(err) == ErrTypeNetwork
}
