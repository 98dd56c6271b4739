package errors

import (
	stderrors "errors"
	"fmt"
)

// SeeklyError is the structured error type for Seekly.
// It carries a stable code for callers and HTTP mapping, plus the cause.
type SeeklyError struct {
	// Code is the unique error code (e.g., "ERR_202_STORE_WRITE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *SeeklyError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SeeklyError) Unwrap() error {
	return e.Cause
}

// Is matches another SeeklyError by code.
func (e *SeeklyError) Is(target error) bool {
	if t, ok := target.(*SeeklyError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *SeeklyError) WithDetail(key, value string) *SeeklyError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *SeeklyError) WithSuggestion(suggestion string) *SeeklyError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SeeklyError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SeeklyError {
	return &SeeklyError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SeeklyError from an existing error.
// The error's message becomes the SeeklyError message.
func Wrap(code string, err error) *SeeklyError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *SeeklyError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a relational store write error.
func StoreError(message string, cause error) *SeeklyError {
	return New(ErrCodeStoreWrite, message, cause)
}

// IndexError creates an index write error.
func IndexError(message string, cause error) *SeeklyError {
	return New(ErrCodeIndexFailed, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *SeeklyError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *SeeklyError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first SeeklyError in err's chain.
func As(err error) (*SeeklyError, bool) {
	var se *SeeklyError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if se, ok := As(err); ok {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if se, ok := As(err); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a SeeklyError.
// Returns empty string if err carries none.
func GetCode(err error) string {
	if se, ok := As(err); ok {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a SeeklyError.
func GetCategory(err error) Category {
	if se, ok := As(err); ok {
		return se.Category
	}
	return ""
}
