// Package serviceerror defines the typed error taxonomy of the exchange
// engine. Errors are sentinel values so callers can classify outcomes with
// errors.Is and map them to stable API error codes.
package serviceerror

import (
	"errors"
	"fmt"

	"github.com/medgrid/exchange-engine/internal/models"
)

var (
	// ErrInvalidScope is returned when a consent request names no categories
	// or asks for a duration beyond the configured maximum.
	ErrInvalidScope = errors.New("invalid consent scope")

	// ErrStaleDecision is returned when a decision arrives for an artifact
	// that already left REQUESTED. Exactly one of two concurrent decisions
	// on the same artifact receives this error.
	ErrStaleDecision = errors.New("artifact is no longer awaiting a decision")

	// ErrSignatureInvalid is returned when a signature does not verify
	// against the signer's registered key.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrNotRevocable is returned when revocation targets an artifact not in
	// GRANTED state.
	ErrNotRevocable = errors.New("artifact is not in a revocable state")

	// ErrConsentNotGranted is returned when an exchange is initiated under
	// an artifact that is not GRANTED.
	ErrConsentNotGranted = errors.New("consent artifact is not granted")

	// ErrConsentNoLongerValid is returned when a callback references an
	// artifact whose grant was withdrawn after submission.
	ErrConsentNoLongerValid = errors.New("consent is no longer valid for this exchange")

	// ErrDeliveryTimeout is recorded when all delivery attempts elapse
	// without a provider callback.
	ErrDeliveryTimeout = errors.New("exchange delivery deadline elapsed")

	// ErrLedgerAppend aborts the triggering operation entirely; no state is
	// committed without its audit record. The caller sees a retryable
	// failure.
	ErrLedgerAppend = errors.New("audit ledger append failed")

	// ErrNotFound is returned when a referenced artifact or request does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden is returned when the caller lacks the required capability
	ErrForbidden = errors.New("caller lacks required capability")
)

// CodeFor maps a service error to its stable API error code
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidScope):
		return models.ErrCodeInvalidScope
	case errors.Is(err, ErrStaleDecision):
		return models.ErrCodeStaleDecision
	case errors.Is(err, ErrSignatureInvalid):
		return models.ErrCodeSignatureInvalid
	case errors.Is(err, ErrNotRevocable):
		return models.ErrCodeNotRevocable
	case errors.Is(err, ErrConsentNotGranted):
		return models.ErrCodeConsentNotGranted
	case errors.Is(err, ErrConsentNoLongerValid):
		return models.ErrCodeConsentNoLongerValid
	case errors.Is(err, ErrDeliveryTimeout):
		return models.ErrCodeDeliveryTimeout
	case errors.Is(err, ErrLedgerAppend):
		return models.ErrCodeLedgerAppendFailure
	case errors.Is(err, ErrNotFound):
		return models.ErrCodeNotFound
	case errors.Is(err, ErrForbidden):
		return models.ErrCodeForbidden
	default:
		return models.ErrCodeInternalError
	}
}

// Wrap annotates a sentinel error with context while keeping errors.Is intact
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, sentinel)...)
}
