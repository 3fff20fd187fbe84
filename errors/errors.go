package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ValidationError        ErrorType = "VALIDATION_ERROR"
	NotFoundError          ErrorType = "NOT_FOUND"
	AuthRequiredError      ErrorType = "AUTH_REQUIRED"
	ForbiddenError         ErrorType = "FORBIDDEN"
	CapacityExceededError  ErrorType = "CAPACITY_EXCEEDED"
	TransportErrorType     ErrorType = "TRANSPORT_ERROR"
	UpstreamTimeoutError   ErrorType = "UPSTREAM_TIMEOUT"
	RateLimitExceededError ErrorType = "RATE_LIMIT_EXCEEDED"
	DatabaseError          ErrorType = "DATABASE_ERROR"
	ServerError            ErrorType = "SERVER_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the raw cause so errors.Is works through an AppError.
func (e *AppError) Unwrap() error {
	return e.Raw
}

// Retryable reports whether a client may retry the failed operation as-is.
func (e *AppError) Retryable() bool {
	switch e.Type {
	case TransportErrorType, UpstreamTimeoutError, CapacityExceededError, RateLimitExceededError:
		return true
	default:
		return false
	}
}

// New creates a new AppError
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: getHTTPStatus(errType),
	}
}

// Wrap wraps a raw error with AppError context
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: getHTTPStatus(errType),
		Raw:        err,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errType
}

// Helper functions for common errors
func NotFound(entity string, id interface{}) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", entity),
		Detail:     fmt.Sprintf("ID: %v", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func ValidationFailed(message string, details string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusBadRequest,
	}
}

func AuthRequired(message string) *AppError {
	return &AppError{
		Type:       AuthRequiredError,
		Code:       "auth_required",
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

func Forbidden(message string, details string) *AppError {
	return &AppError{
		Type:       ForbiddenError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusForbidden,
	}
}

// CapacityExceeded is returned when the gateway is at its connection ceiling.
func CapacityExceeded(limit int) *AppError {
	return &AppError{
		Type:       CapacityExceededError,
		Code:       "capacity_exceeded",
		Message:    "Connection limit reached",
		Detail:     fmt.Sprintf("limit: %d", limit),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

func TransportError(err error, message string) *AppError {
	return Wrap(err, TransportErrorType, message)
}

// UpstreamTimeout marks a backing call that exceeded its deadline.
func UpstreamTimeout(operation string, err error) *AppError {
	appErr := &AppError{
		Type:       UpstreamTimeoutError,
		Code:       "upstream_timeout",
		Message:    fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
		Raw:        err,
	}
	if err != nil {
		appErr.Detail = err.Error()
	}
	return appErr
}

func RateLimitExceeded(message string, retryAfterSeconds int) *AppError {
	return &AppError{
		Type:       RateLimitExceededError,
		Code:       "rate_limited",
		Message:    message,
		Detail:     fmt.Sprintf("retry after %ds", retryAfterSeconds),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

func NewDatabaseError(err error) *AppError {
	return &AppError{
		Type:       DatabaseError,
		Message:    "Database operation failed",
		Detail:     "Please try again later",
		HTTPStatus: http.StatusInternalServerError,
		Raw:        err,
	}
}

func InternalServerError(message string) *AppError {
	return &AppError{
		Type:       ServerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case AuthRequiredError:
		return http.StatusUnauthorized
	case ForbiddenError:
		return http.StatusForbidden
	case CapacityExceededError:
		return http.StatusServiceUnavailable
	case TransportErrorType:
		return http.StatusBadGateway
	case UpstreamTimeoutError:
		return http.StatusGatewayTimeout
	case RateLimitExceededError:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
