// Package errors provides structured error types for splitmerge.
// All errors include a category, code, message, and retryable flag so the
// CLI can map them to exit codes and the ledger can record them verbatim.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryInput      ErrorCategory = "INPUT"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryMerge      ErrorCategory = "MERGE"
	ErrCategoryManifest   ErrorCategory = "MANIFEST"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidInput    = "INVALID_INPUT"
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeOutputCollision = "OUTPUT_COLLISION"

	// Input codes
	CodeNoInputs        = "NO_INPUTS"
	CodeInputUnreadable = "INPUT_UNREADABLE"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Merge codes
	CodeToolNotFound  = "TOOL_NOT_FOUND"
	CodeMergeFailed   = "MERGE_FAILED"
	CodeOutputInvalid = "OUTPUT_INVALID"

	// Manifest codes
	CodeLedgerWriteFailed = "LEDGER_WRITE_FAILED"
	CodeRunNotFound       = "RUN_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// SplitMergeError is the structured error type used throughout the system.
type SplitMergeError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SplitMergeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SplitMergeError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SplitMergeError) Is(target error) bool {
	var t *SplitMergeError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SplitMergeError.
func New(category ErrorCategory, code, message string) *SplitMergeError {
	return &SplitMergeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new SplitMergeError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SplitMergeError {
	return &SplitMergeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SplitMergeError) WithDetails(details map[string]interface{}) *SplitMergeError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SplitMergeError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SplitMergeError.
func GetCategory(err error) ErrorCategory {
	var se *SplitMergeError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SplitMergeError.
func GetCode(err error) string {
	var se *SplitMergeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Only transient
// object storage failures qualify; a failed merge is left for the operator.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryManifest && code == CodeLedgerWriteFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *SplitMergeError {
	return New(ErrCategoryValidation, code, message)
}

func NewInputError(code, message string, cause error) *SplitMergeError {
	return Wrap(ErrCategoryInput, code, message, cause)
}

func NewStorageError(code, message string, cause error) *SplitMergeError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewMergeError(code, message string, cause error) *SplitMergeError {
	return Wrap(ErrCategoryMerge, code, message, cause)
}

func NewManifestError(code, message string, cause error) *SplitMergeError {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewInternalError(message string, cause error) *SplitMergeError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// Sentinels for errors.Is comparisons. Matching is by category and code, so
// any error built with the same pair satisfies errors.Is against these.
var (
	ErrInvalidInput = New(ErrCategoryValidation, CodeInvalidInput, "invalid input")
	ErrNoInputs     = New(ErrCategoryInput, CodeNoInputs, "no input files")
	ErrMergeFailed  = New(ErrCategoryMerge, CodeMergeFailed, "merge failed")
)
