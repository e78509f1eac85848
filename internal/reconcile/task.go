package reconcile

// Task is the retry-queue payload: one reconciliation attempt for one payment.
type Task struct {
	GatewayPaymentID string `json:"gateway_payment_id"`
	Attempt          int    `json:"attempt"`
	CorrelationID    string `json:"correlation_id,omitempty"`
}

// MaxAttempts is the retry ceiling for queued reconciliations. Hitting it
// means an operator has to look: money may have moved without the order
// reflecting it.
const MaxAttempts = 5
