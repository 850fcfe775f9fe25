// Package errors defines the categorized error type shared by the learning,
// matching and persistence layers.
//
// Most errors produced by the core never reach a caller: malformed input
// records and degenerate arithmetic are recorded and skipped. The type still
// carries enough context (category, code, suggestion, free-form context) for
// the CLI and for learning statistics to explain what was dropped and why.
package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategorySerialization ErrorCategory = "serialization"
	CategoryArithmetic    ErrorCategory = "arithmetic"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileWrite      ErrorCode = "file_write"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"

	// Validation errors
	CodeMissingField  ErrorCode = "missing_field"
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidSender ErrorCode = "invalid_sender"

	// Serialization errors
	CodeCorruptSnapshot ErrorCode = "corrupt_snapshot"
	CodeEncodeFailed    ErrorCode = "encode_failed"
	CodeSinkFailed      ErrorCode = "sink_failed"

	// Arithmetic errors
	CodeZeroMean    ErrorCode = "zero_mean"
	CodeEmptySeries ErrorCode = "empty_series"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategorySerialization:
		return 5
	case CategoryArithmetic, CategoryInternal:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// ValidationError describes an input record that is missing or carries an
// unusable required field. Learners skip such records and count them.
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts must be decimal numbers such as '12.34'"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use YYYY-MM-DD or an RFC 1123 / RFC 3339 timestamp"
	case CodeInvalidSender:
		message = fmt.Sprintf("sender address in field '%s' has no domain: %v", field, value)
		suggestion = "sender must look like name@example.com"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// SerializationError describes a persisted snapshot that could not be read
// or written.
func SerializationError(code ErrorCode, source string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeCorruptSnapshot:
		message = fmt.Sprintf("profile snapshot is corrupt: %s", source)
		suggestion = "restore the snapshot from a backup or clear it to relearn"
	case CodeEncodeFailed:
		message = fmt.Sprintf("failed to encode profile snapshot for %s", source)
		suggestion = "this is likely a bug - please report it with the error details"
	case CodeSinkFailed:
		message = fmt.Sprintf("failed to write profile snapshot to %s", source)
		suggestion = "check that the destination is writable and has free space"
	default:
		message = fmt.Sprintf("serialization error: %s", source)
		suggestion = "check the snapshot and try again"
	}

	return build(CategorySerialization, code, message, err).
		WithSuggestion(suggestion).
		WithContext("source", source)
}

// ArithmeticError describes a statistic that could not be computed, such as
// a coefficient of variation over a zero mean. Callers treat the signal as
// absent.
func ArithmeticError(code ErrorCode, signal string) *ReconcilerError {
	var message string

	switch code {
	case CodeZeroMean:
		message = fmt.Sprintf("cannot compute %s: mean is zero", signal)
	case CodeEmptySeries:
		message = fmt.Sprintf("cannot compute %s: no samples", signal)
	default:
		message = fmt.Sprintf("cannot compute %s", signal)
	}

	return New(CategoryArithmetic, code, message).WithContext("signal", signal)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileWrite:
		message = fmt.Sprintf("failed to write file: %s", path)
		suggestion = "ensure the directory exists and is writable"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates an error for a record that could not be decoded.
func ParseError(code ErrorCode, file string, line int, column string, err error) *ReconcilerError {
	var message string

	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in file %s", column, file)
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in file %s at line %d, column '%s'", file, line, column)
	default:
		message = fmt.Sprintf("invalid format in file %s at line %d", file, line)
	}

	return build(CategoryParse, code, message, err).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	return build(CategoryInternal, code, message, err).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"-"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

const maxSampleErrors = 5

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*ReconcilerError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	if len(errs) > maxSampleErrors {
		summary.SampleErrors = errs[:maxSampleErrors]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Add records one more error in the summary.
func (es *ErrorSummary) Add(err *ReconcilerError) {
	if err == nil {
		return
	}
	es.Total++
	es.ByCategory[err.Category]++
	es.ByCode[err.Code]++
	es.Errors = append(es.Errors, err)
	if len(es.SampleErrors) < maxSampleErrors {
		es.SampleErrors = append(es.SampleErrors, err)
	}
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	categories := make([]string, 0, len(es.ByCategory))
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// IsReconcilerError checks if an error is a ReconcilerError
func IsReconcilerError(err error) bool {
	_, ok := err.(*ReconcilerError)
	return ok
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsCategory reports whether err is a ReconcilerError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Category == category
}
