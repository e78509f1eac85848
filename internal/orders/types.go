package orders

import "time"

// Order statuses. pending is the only initial state; delivered is terminal.
const (
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusFailed    = "FAILED"
	StatusDelivered = "DELIVERED"
)

// CanTransition reports whether the lifecycle allows from -> to.
// pending -> approved|failed via reconciliation, approved -> delivered via
// admin action. failed is terminal for the payment flow (a new order is the
// only way forward); nothing leaves delivered.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusFailed
	case StatusApproved:
		return to == StatusDelivered
	default:
		return false
	}
}

// ContactInfo is the purchaser snapshot taken at order time.
type ContactInfo struct {
	Name    string `dynamodbav:"name" json:"name"`
	Email   string `dynamodbav:"email" json:"email"`
	Phone   string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Address string `dynamodbav:"address,omitempty" json:"address,omitempty"`
}

// Item is one priced order line. Unit prices are copied from the catalog at
// creation time; the order exclusively owns its items.
type Item struct {
	PhotoID         string `dynamodbav:"photo_id" json:"photoId"`
	PriceListItemID string `dynamodbav:"price_list_item_id" json:"priceListItemId"`
	Quantity        int64  `dynamodbav:"quantity" json:"quantity"`
	UnitPriceCents  int64  `dynamodbav:"unit_price_cents" json:"unitPriceCents"`
	LineTotalCents  int64  `dynamodbav:"line_total_cents" json:"lineTotalCents"`
}

// Order is one checkout attempt as stored in the orders table. Items live
// inside the order row so a single conditional PutItem creates everything and
// deletion removes everything.
type Order struct {
	OrderID    string      `dynamodbav:"order_id" json:"orderId"` // PK
	Token      string      `dynamodbav:"token" json:"-"`
	EventID    string      `dynamodbav:"event_id" json:"eventId"`
	Status     string      `dynamodbav:"status" json:"status"`
	TotalCents int64       `dynamodbav:"total_cents" json:"totalCents"`
	Currency   string      `dynamodbav:"currency" json:"currency"`
	Contact    ContactInfo `dynamodbav:"contact" json:"contact"`
	Items      []Item      `dynamodbav:"items" json:"items"`

	PreferenceID string `dynamodbav:"preference_id,omitempty" json:"preferenceId,omitempty"`

	// Gateway fields stay empty until reconciliation.
	GatewayPaymentID    string `dynamodbav:"gateway_payment_id,omitempty" json:"gatewayPaymentId,omitempty"`
	GatewayStatus       string `dynamodbav:"gateway_status,omitempty" json:"gatewayStatus,omitempty"`
	GatewayStatusDetail string `dynamodbav:"gateway_status_detail,omitempty" json:"gatewayStatusDetail,omitempty"`

	ApprovedAt *time.Time `dynamodbav:"approved_at,omitempty" json:"approvedAt,omitempty"`
	CreatedAt  time.Time  `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `dynamodbav:"updated_at" json:"updatedAt"`
}

// GatewayResult is what reconciliation stamps onto an order together with the
// status transition.
type GatewayResult struct {
	PaymentID    string
	Status       string
	StatusDetail string
}
