package catalog

import "time"

// Gallery is a token-gated view over one school event. Families reach the
// shop through the token; orders are scoped to the event it resolves to.
type Gallery struct {
	Token     string    `dynamodbav:"token"` // PK
	EventID   string    `dynamodbav:"event_id"`
	Label     string    `dynamodbav:"label,omitempty"`
	ExpiresAt time.Time `dynamodbav:"expires_at"`
	CreatedAt time.Time `dynamodbav:"created_at"`
}

// Expired reports whether the token is past its expiry. A zero ExpiresAt
// means the gallery never expires.
func (g *Gallery) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

// Item is one purchasable line definition from the authoritative price list.
type Item struct {
	ID             string `dynamodbav:"id"`
	Label          string `dynamodbav:"label"`
	UnitPriceCents int64  `dynamodbav:"unit_price_cents"`
	Currency       string `dynamodbav:"currency"`
}

// PriceList is the authoritative set of purchasable items for one event.
type PriceList struct {
	EventID   string    `dynamodbav:"event_id"` // PK
	Items     []Item    `dynamodbav:"items"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// Item returns the entry with the given id, or nil when absent.
func (pl *PriceList) Item(id string) *Item {
	for i := range pl.Items {
		if pl.Items[i].ID == id {
			return &pl.Items[i]
		}
	}
	return nil
}
