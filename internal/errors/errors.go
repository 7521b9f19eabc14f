// Package errors provides structured error types for the census system.
// All errors carry a category and code so callers can distinguish
// recoverable parse failures from fatal store and IO errors.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryIO         ErrorCategory = "IO"
	ErrCategorySimulation ErrorCategory = "SIMULATION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes (recoverable: the offending line is skipped)
	CodeMalformedLine = "MALFORMED_LINE"
	CodeBadTimestamp  = "BAD_TIMESTAMP"
	CodeBadQuery      = "BAD_QUERY"

	// Store codes (fatal: aborts the run before any mutation is committed)
	CodeCorruptState    = "CORRUPT_STATE"
	CodeVersionMismatch = "VERSION_MISMATCH"
	CodeSaveFailed      = "SAVE_FAILED"

	// IO codes
	CodeLogUnreadable    = "LOG_UNREADABLE"
	CodeStoreUnreachable = "STORE_UNREACHABLE"
	CodeArchiveFailed    = "ARCHIVE_FAILED"

	// Simulation codes
	CodeInvariantViolated = "INVARIANT_VIOLATED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// CensusError is the structured error type used throughout the system.
type CensusError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
}

// Error returns a formatted error string.
func (e *CensusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *CensusError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *CensusError) Is(target error) bool {
	var t *CensusError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new CensusError.
func New(category ErrorCategory, code, message string) *CensusError {
	return &CensusError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new CensusError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *CensusError {
	return &CensusError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a CensusError.
func GetCategory(err error) ErrorCategory {
	var ce *CensusError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a CensusError.
func GetCode(err error) string {
	var ce *CensusError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsParseError reports whether the error is a recoverable line-level
// validation failure. The pipeline skips the line and continues.
func IsParseError(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

// Convenience constructors for common errors.

func NewParseError(code, message string) *CensusError {
	return New(ErrCategoryValidation, code, message)
}

func NewStoreError(code, message string, cause error) *CensusError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewIOError(code, message string, cause error) *CensusError {
	return Wrap(ErrCategoryIO, code, message, cause)
}

func NewSimulationError(message string) *CensusError {
	return New(ErrCategorySimulation, CodeInvariantViolated, message)
}

func NewInternalError(message string, cause error) *CensusError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
