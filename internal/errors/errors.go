// Package errors provides structured error types for the starcut system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryCatalog  ErrorCategory = "CATALOG"
	ErrCategoryTile     ErrorCategory = "TILE"
	ErrCategoryCutout   ErrorCategory = "CUTOUT"
	ErrCategoryArchive  ErrorCategory = "ARCHIVE"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Catalog codes
	CodeCatalogParse    = "CATALOG_PARSE"
	CodeMissingColumn   = "MISSING_COLUMN"
	CodeDuplicateObject = "DUPLICATE_OBJECT"
	CodeInvalidPosition = "INVALID_POSITION"

	// Tile codes
	CodeTileMalformed = "TILE_MALFORMED"
	CodeTileNotFound  = "TILE_NOT_FOUND"
	CodeInvalidWCS    = "INVALID_WCS"

	// Cutout codes
	CodeInvalidCutoutSize = "INVALID_CUTOUT_SIZE"
	CodeInvalidTolerance  = "INVALID_TOLERANCE"

	// Archive codes
	CodeLockTimeout    = "LOCK_TIMEOUT"
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	CodeEmptyBatch     = "EMPTY_BATCH"
	CodeCorruptGroup   = "CORRUPT_GROUP"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// StarcutError is the structured error type used throughout the system.
type StarcutError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *StarcutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StarcutError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StarcutError) Is(target error) bool {
	var t *StarcutError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StarcutError.
func New(category ErrorCategory, code, message string) *StarcutError {
	return &StarcutError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new StarcutError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StarcutError {
	return &StarcutError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StarcutError) WithDetails(details map[string]interface{}) *StarcutError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StarcutError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StarcutError.
func GetCategory(err error) ErrorCategory {
	var se *StarcutError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StarcutError.
func GetCode(err error) string {
	var se *StarcutError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable.
// Lock contention and transient transfer failures are worth retrying;
// malformed inputs are not.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryArchive && code == CodeLockTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewCatalogError(code, message string, cause error) *StarcutError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewTileError(code, message string, cause error) *StarcutError {
	return Wrap(ErrCategoryTile, code, message, cause)
}

func NewCutoutError(code, message string) *StarcutError {
	return New(ErrCategoryCutout, code, message)
}

func NewArchiveError(code, message string, cause error) *StarcutError {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewStorageError(code, message string, cause error) *StarcutError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *StarcutError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
