package validation

// ContactInfo is the purchaser snapshot submitted with the cart.
type ContactInfo struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// CartItem is one submitted line. UnitPriceCents is the client's claimed
// price; when present it must agree with the catalog or the order is
// rejected. The server never trusts it for totals either way.
type CartItem struct {
	PhotoID         string `json:"photoId" validate:"required"`
	PriceListItemID string `json:"priceListItemId" validate:"required"`
	Quantity        int64  `json:"quantity" validate:"required,min=1"`
	UnitPriceCents  *int64 `json:"unitPriceCents,omitempty" validate:"omitempty,gt=0"`
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	Token   string      `json:"token" validate:"required"`
	Contact ContactInfo `json:"contactInfo" validate:"required"`
	Items   []CartItem  `json:"items" validate:"required,min=1,dive"`
}

// UpdateOrderStatusRequest is the payload for PATCH /orders/:id. Only the
// delivered transition is reachable from this path.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=delivered"`
}
