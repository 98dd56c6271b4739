// Package errors provides structured error handling for Seekly.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (relational store, index directory)
//   - 4XX: Validation errors
//   - 5XX: Engine errors (indexing, search, hydration)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates relational store or index I/O errors.
	CategoryStorage Category = "STORAGE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates engine failures.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the engine cannot be used.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the engine can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates a transient condition worth retrying.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreWrite       = "ERR_202_STORE_WRITE"
	ErrCodeStoreRead        = "ERR_203_STORE_READ"
	ErrCodeIndexLocked      = "ERR_204_INDEX_LOCKED"
	ErrCodeCorruptIndex     = "ERR_205_CORRUPT_INDEX"
	ErrCodeIndexIO          = "ERR_206_INDEX_IO"

	// Validation errors (400-499)
	ErrCodeInvalidInput  = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidEntity = "ERR_402_INVALID_ENTITY"
	ErrCodeInvalidQuery  = "ERR_403_INVALID_QUERY"
	ErrCodeNotFound      = "ERR_404_NOT_FOUND"

	// Engine errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeSerialization   = "ERR_502_SERIALIZATION"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeHydrationFailed = "ERR_504_HYDRATION_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
	ErrCodeOptimizeFailed  = "ERR_506_OPTIMIZE_FAILED"
	ErrCodeRateLimited     = "ERR_507_RATE_LIMITED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "201" from "ERR_201_STORE_UNAVAILABLE"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeConfigInvalid:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeIndexLocked, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
