package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies an error category
type ErrorCode string

const (
	// Generic errors
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeConflict   ErrorCode = "CONFLICT"
	ErrCodeTimeout    ErrorCode = "TIMEOUT"
	ErrCodeRateLimit  ErrorCode = "RATE_LIMIT"
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Infrastructure errors
	ErrCodeDBConnection    ErrorCode = "DB_CONNECTION_ERROR"
	ErrCodeDBQuery         ErrorCode = "DB_QUERY_ERROR"
	ErrCodeDBTransaction   ErrorCode = "DB_TRANSACTION_ERROR"
	ErrCodeCacheConnection ErrorCode = "CACHE_CONNECTION_ERROR"
	ErrCodeCacheOperation  ErrorCode = "CACHE_OPERATION_ERROR"
	ErrCodeQueueFull       ErrorCode = "QUEUE_FULL"

	// Market data errors
	ErrCodeDataUnavailable ErrorCode = "DATA_UNAVAILABLE"
	ErrCodeDataInvalid     ErrorCode = "DATA_INVALID"

	// Strategy errors
	ErrCodeUnsafeCode      ErrorCode = "UNSAFE_CODE"
	ErrCodeInvalidStrategy ErrorCode = "INVALID_STRATEGY"
	ErrCodeExecution       ErrorCode = "EXECUTION_ERROR"
)

// ErrorSeverity classifies how urgently an error needs attention
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError is the application error type carried across layers
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to an HTTP status code
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeValidation, ErrCodeUnsafeCode, ErrCodeInvalidStrategy, ErrCodeDataInvalid:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeDataUnavailable:
		return http.StatusUnprocessableEntity
	case ErrCodeQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether the operation may succeed on retry
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeDBConnection, ErrCodeCacheConnection, ErrCodeQueueFull:
		return true
	default:
		return false
	}
}

// New creates a new application error
func New(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  severityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// Newf creates a new application error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithDetails attaches detail text
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithContext attaches a context key/value pair
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func severityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeDBConnection:
		return SeverityCritical
	case ErrCodeDBQuery, ErrCodeDBTransaction, ErrCodeExecution:
		return SeverityHigh
	case ErrCodeCacheConnection, ErrCodeCacheOperation, ErrCodeDataUnavailable, ErrCodeQueueFull:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Wrap converts a standard error into an AppError, passing AppErrors through
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(code, message, err)
}

// AsAppError extracts an AppError, or nil if err is not one
func AsAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return nil
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	appErr := AsAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsRetryable reports whether err is transient enough to retry
func IsRetryable(err error) bool {
	appErr := AsAppError(err)
	return appErr != nil && appErr.IsRetryable()
}
