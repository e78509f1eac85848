package reconcile

import "github.com/takato23/lookescolar-sub010/internal/orders"

// Gateway status vocabulary. Anything not listed here maps to pending:
// an unrecognized status must never approve an order on its own.
const (
	gwApproved    = "approved"
	gwPending     = "pending"
	gwInProcess   = "in_process"
	gwInMediation = "in_mediation"
	gwRejected    = "rejected"
	gwCancelled   = "cancelled"
	gwRefunded    = "refunded"
	gwChargedBack = "charged_back"
)

// MapStatus translates the gateway's status vocabulary to the internal
// three-way outcome.
func MapStatus(gatewayStatus string) string {
	switch gatewayStatus {
	case gwApproved:
		return orders.StatusApproved
	case gwPending, gwInProcess, gwInMediation:
		return orders.StatusPending
	case gwRejected, gwCancelled, gwRefunded, gwChargedBack:
		return orders.StatusFailed
	default:
		return orders.StatusPending
	}
}

// Terminal reports whether an internal status ends the payment flow for the
// notification that produced it.
func Terminal(internalStatus string) bool {
	return internalStatus == orders.StatusApproved || internalStatus == orders.StatusFailed
}
