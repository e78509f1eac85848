package apperr

import (
	"context"
	"errors"
	"net/http"
)

// Sentinel errors for the settlement pipeline. Callers wrap these with %w and
// classify with errors.Is.
var (
	// ErrTokenNotFound: gallery token is unknown or expired.
	ErrTokenNotFound = errors.New("gallery token not found")

	// ErrItemNotFound: a cart line references a price list entry that does not exist.
	ErrItemNotFound = errors.New("price list item not found")

	// ErrPriceMismatch: client-supplied unit price disagrees with the catalog.
	// Rejected, never silently corrected.
	ErrPriceMismatch = errors.New("price mismatch")

	// ErrDuplicatePending: an unresolved pending order already exists for the token.
	ErrDuplicatePending = errors.New("pending order already exists")

	// ErrOrderNotFound: a payment notification references an order we do not have.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidTransition: the requested order status change is not allowed
	// by the lifecycle (pending -> approved|failed -> delivered).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrGatewayUnavailable: payment gateway unreachable after retries
	// (network error, 5xx, 429).
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected: the gateway answered with a terminal client error
	// or a malformed success body. Not retryable.
	ErrGatewayRejected = errors.New("payment gateway rejected request")

	// ErrSignature: webhook signature missing or failed verification.
	ErrSignature = errors.New("invalid webhook signature")
)

// Kind returns a stable machine-readable label for logging and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrTokenNotFound):
		return "token_not_found"

	case errors.Is(err, ErrItemNotFound):
		return "unknown_item"

	case errors.Is(err, ErrPriceMismatch):
		return "price_mismatch"

	case errors.Is(err, ErrDuplicatePending):
		return "duplicate_pending"

	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"

	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"

	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"

	case errors.Is(err, ErrGatewayRejected):
		return "gateway_rejected"

	case errors.Is(err, ErrSignature):
		return "invalid_signature"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

// HTTPStatus maps an error to the status the API surfaces. Gateway internals
// never leak to the caller; handlers pair this with a generic body.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrOrderNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrPriceMismatch),
		errors.Is(err, ErrInvalidTransition):
		return http.StatusUnprocessableEntity

	case errors.Is(err, ErrDuplicatePending):
		return http.StatusConflict

	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, ErrGatewayRejected):
		return http.StatusBadGateway

	case errors.Is(err, ErrSignature):
		return http.StatusUnauthorized

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a reconciliation or gateway error is worth another
// attempt. Validation-class errors are terminal; transport and persistence
// failures are not. ErrOrderNotFound is retryable to absorb read lag between
// order creation and the first webhook.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false

	case errors.Is(err, ErrPriceMismatch),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDuplicatePending),
		errors.Is(err, ErrGatewayRejected),
		errors.Is(err, ErrSignature):
		return false

	default:
		return true
	}
}
