package models

import (
	"net/http"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(code, message, details string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error codes
const (
	ErrCodeBadRequest           = "BAD_REQUEST"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeDatabaseError        = "DATABASE_ERROR"
	ErrCodeValidationError      = "VALIDATION_ERROR"
	ErrCodeInvalidScope         = "INVALID_SCOPE"
	ErrCodeStaleDecision        = "STALE_DECISION"
	ErrCodeSignatureInvalid     = "SIGNATURE_INVALID"
	ErrCodeNotRevocable         = "NOT_REVOCABLE"
	ErrCodeConsentNotGranted    = "CONSENT_NOT_GRANTED"
	ErrCodeConsentNoLongerValid = "CONSENT_NO_LONGER_VALID"
	ErrCodeDeliveryTimeout      = "DELIVERY_TIMEOUT"
	ErrCodeLedgerAppendFailure  = "LEDGER_APPEND_FAILURE"
)

// HTTPStatusForErrorCode returns the appropriate HTTP status code for an error code
func HTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrCodeBadRequest, ErrCodeValidationError, ErrCodeInvalidScope:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, ErrCodeSignatureInvalid:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeConsentNotGranted, ErrCodeConsentNoLongerValid:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeStaleDecision, ErrCodeNotRevocable:
		return http.StatusConflict
	case ErrCodeDeliveryTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeLedgerAppendFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NotificationEvent describes one status change fanned out to listeners.
// DeliveryID identifies the fan-out, so listeners can deduplicate retries.
type NotificationEvent struct {
	DeliveryID string `json:"deliveryId"`
	SubjectID  string `json:"subjectId"`
	EventType  string `json:"eventType"`
	Timestamp  int64  `json:"timestamp"`
}
