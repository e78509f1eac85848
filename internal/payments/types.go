package payments

import "time"

// Record is one durable row per gateway payment, keyed by the gateway's
// payment id. The conditional insert on that key is the pipeline's primary
// duplicate-delivery guard. Non-terminal records are refreshed in place when
// a later notification carries a newer gateway status; the uniqueness of the
// key still guarantees at most one row per payment.
type Record struct {
	GatewayPaymentID string    `dynamodbav:"gateway_payment_id"` // PK
	OrderID          string    `dynamodbav:"order_id"`
	GatewayStatus    string    `dynamodbav:"gateway_status"`
	InternalStatus   string    `dynamodbav:"internal_status"` // APPROVED | PENDING | FAILED at mapping time
	AmountCents      int64     `dynamodbav:"amount_cents"`
	RawPayload       string    `dynamodbav:"raw_payload,omitempty"` // webhook body kept for audit
	ProcessedAt      time.Time `dynamodbav:"processed_at"`
	UpdatedAt        time.Time `dynamodbav:"updated_at"`
}
