package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the structured error type for hybridrag.
// It provides rich context for error handling, logging, and user presentation.
type AppError struct {
	// Code is the unique error code (e.g., "ERR_204_PAYLOAD_TOO_LARGE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
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

// Sentinels for errors.Is checks. Matching is by code, so any AppError
// carrying the same code matches regardless of message.
var (
	ErrPayloadTooLarge    = &AppError{Code: ErrCodePayloadTooLarge}
	ErrExtractionFailed   = &AppError{Code: ErrCodeExtractionFailed}
	ErrBackendTimeout     = &AppError{Code: ErrCodeBackendTimeout}
	ErrBackendUnavailable = &AppError{Code: ErrCodeBackendUnavailable}
	ErrDimensionMismatch  = &AppError{Code: ErrCodeDimensionMismatch}
	ErrSynthesisFailed    = &AppError{Code: ErrCodeSynthesisFailed}
	ErrDocumentNotFound   = &AppError{Code: ErrCodeDocumentNotFound}
	ErrNodeNotFound       = &AppError{Code: ErrCodeNodeNotFound}
)

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AppError) WithSuggestion(suggestion string) *AppError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AppError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AppError from an existing error.
// The error's message becomes the AppError message.
func Wrap(code string, err error) *AppError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AppError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AppError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AppError {
	return New(ErrCodeInternal, message, cause)
}

// PayloadTooLarge reports a document exceeding the ingest size limit.
func PayloadTooLarge(size, limit int64) *AppError {
	return New(ErrCodePayloadTooLarge,
		fmt.Sprintf("document is %d bytes, limit is %d", size, limit), nil).
		WithDetail("size", fmt.Sprint(size)).
		WithDetail("limit", fmt.Sprint(limit)).
		WithSuggestion("Split the document or raise ingest.max_bytes")
}

// ExtractionFailed reports that no text could be extracted from a document.
func ExtractionFailed(message string, cause error) *AppError {
	return New(ErrCodeExtractionFailed, message, cause)
}

// BackendTimeout reports a backend call that exceeded its deadline.
func BackendTimeout(backend string, cause error) *AppError {
	return New(ErrCodeBackendTimeout, backend+" timed out", cause).WithDetail("backend", backend)
}

// BackendUnavailable reports a backend call that failed.
func BackendUnavailable(backend string, cause error) *AppError {
	msg := backend + " unavailable"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return New(ErrCodeBackendUnavailable, msg, cause).WithDetail("backend", backend)
}

// DimensionMismatch reports vectors of a different size than the index expects.
func DimensionMismatch(expected, got int) *AppError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding dimension mismatch: index has %d, embedder produced %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got)).
		WithSuggestion("Re-ingest all documents after changing the embedding model, or restore the previous model")
}

// SynthesisFailed reports a failed or empty LLM generation.
func SynthesisFailed(message string, cause error) *AppError {
	return New(ErrCodeSynthesisFailed, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an AppError anywhere in the chain.
// Returns empty string if not an AppError.
func GetCode(err error) string {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from an AppError.
func GetCategory(err error) Category {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
