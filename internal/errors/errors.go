package errors

import (
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Authentication errors (401xx)
	ErrUnauthorized ErrorCode = "40101"

	// Authorization errors (403xx)
	ErrForbidden    ErrorCode = "40301"
	ErrInvalidToken ErrorCode = "40302"

	// Request errors (400xx)
	ErrInvalidRequest ErrorCode = "40001"

	// Resource errors (404xx)
	ErrClientNotFound ErrorCode = "40401"

	// Payment-required (402xx)
	ErrQuotaExhausted ErrorCode = "40201"

	// Rate limit errors (429xx)
	ErrRateLimited ErrorCode = "42901"

	// Server errors (500xx)
	ErrInternalServer      ErrorCode = "50001"
	ErrStoreUnavailable    ErrorCode = "50002"
	ErrUpstreamTimeout     ErrorCode = "50401"
	ErrUpstreamUnavailable ErrorCode = "50301"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// NewErrorResponse wraps an APIError for the wire
func NewErrorResponse(err *APIError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Error:     *err,
		RequestID: requestID,
	}
}

// Stable client-visible errors. Internal diagnostics never ride on these;
// handlers log the cause and respond with one of the values below.
var (
	ErrUnauthorizedError = &APIError{
		Code:       ErrUnauthorized,
		Message:    "Missing API token",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbiddenError = &APIError{
		Code:       ErrForbidden,
		Message:    "Invalid API token",
		HTTPStatus: http.StatusForbidden,
	}

	ErrAdminForbiddenError = &APIError{
		Code:       ErrForbidden,
		Message:    "Admin key required",
		HTTPStatus: http.StatusForbidden,
	}

	ErrClientNotFoundError = &APIError{
		Code:       ErrClientNotFound,
		Message:    "Client not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Too many requests. Try later.",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrQuotaExhaustedError = &APIError{
		Code:       ErrQuotaExhausted,
		Message:    "Trial over. Please subscribe to continue.",
		HTTPStatus: http.StatusPaymentRequired,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrStoreUnavailableError = &APIError{
		Code:       ErrStoreUnavailable,
		Message:    "Service temporarily unavailable",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}
