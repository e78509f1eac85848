package gateway

import "math"

// PreferenceItem is one line sent to the gateway's checkout preference.
type PreferenceItem struct {
	Title          string
	Quantity       int64
	UnitPriceCents int64
	Currency       string
}

// Payer identifies who is redirected to pay.
type Payer struct {
	Name  string
	Email string
}

// PreferenceRequest creates a gateway-side payment intent. OrderID travels as
// the external reference so the webhook can be correlated back.
type PreferenceRequest struct {
	OrderID         string
	Items           []PreferenceItem
	Payer           Payer
	NotificationURL string
}

// Preference is the gateway's payment intent plus the redirect URL.
type Preference struct {
	ID      string
	InitURL string
}

// Payment is the gateway's view of a payment, fetched during reconciliation.
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string // our order id
	AmountCents       int64
	Currency          string
}

// The gateway speaks amounts in major units; we keep minor units everywhere.

func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

func amountToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
