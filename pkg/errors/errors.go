package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies task and fetch failures for retry-policy selection
type ErrorType string

const (
	// ErrorTypePrecondition means a required external context is currently
	// unavailable (e.g. the page a task depends on is not open). Tasks
	// failing this way get the extended, patient retry policy.
	ErrorTypePrecondition ErrorType = "precondition"

	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a classified failure
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error
func Wrap(t ErrorType, err error, message string) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

// Precondition creates a precondition-not-met error
func Precondition(format string, args ...interface{}) *Error {
	return New(ErrorTypePrecondition, format, args...)
}

// IsPrecondition reports whether err (or anything it wraps) is a
// precondition-not-met error. Retry-policy selection keys off this instead
// of matching message substrings.
func IsPrecondition(err error) bool {
	return TypeOf(err) == ErrorTypePrecondition
}

// TypeOf returns the classification of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
