package validation

import "testing"

func int64Ptr(v int64) *int64 { return &v }

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{
		Token:   "tok-1",
		Contact: ContactInfo{Name: "Ana", Email: "ana@example.com"},
		Items: []CartItem{
			{PhotoID: "ph-1", PriceListItemID: "pli-1", Quantity: 2},
			{PhotoID: "ph-2", PriceListItemID: "pli-1", Quantity: 1, UnitPriceCents: int64Ptr(1500)},
		},
	}
}

func TestCreateOrderRequestValidation(t *testing.T) {
	v := New()

	if err := v.Struct(validRequest()); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{"missing token", func(r *CreateOrderRequest) { r.Token = "" }},
		{"missing contact name", func(r *CreateOrderRequest) { r.Contact.Name = "" }},
		{"bad email", func(r *CreateOrderRequest) { r.Contact.Email = "not-an-email" }},
		{"no items", func(r *CreateOrderRequest) { r.Items = nil }},
		{"zero quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"negative quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = -1 }},
		{"missing photo id", func(r *CreateOrderRequest) { r.Items[0].PhotoID = "" }},
		{"missing price list item id", func(r *CreateOrderRequest) { r.Items[0].PriceListItemID = "" }},
		{"zero claimed price", func(r *CreateOrderRequest) { r.Items[0].UnitPriceCents = int64Ptr(0) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			if err := v.Struct(req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCreateOrderRejectsDuplicateLines(t *testing.T) {
	v := New()

	req := validRequest()
	req.Items = append(req.Items, CartItem{PhotoID: "ph-1", PriceListItemID: "pli-1", Quantity: 3})
	if err := v.Struct(req); err == nil {
		t.Fatal("duplicate photo/item line must be rejected")
	}

	// same photo under a different price list item is a different line
	req = validRequest()
	req.Items = append(req.Items, CartItem{PhotoID: "ph-1", PriceListItemID: "pli-2", Quantity: 1})
	if err := v.Struct(req); err != nil {
		t.Fatalf("distinct lines rejected: %v", err)
	}
}

func TestUpdateOrderStatusValidation(t *testing.T) {
	v := New()

	if err := v.Struct(UpdateOrderStatusRequest{Status: "delivered"}); err != nil {
		t.Fatalf("delivered rejected: %v", err)
	}
	for _, status := range []string{"", "shipped", "approved", "DELIVERED"} {
		if err := v.Struct(UpdateOrderStatusRequest{Status: status}); err == nil {
			t.Fatalf("status %q must be rejected", status)
		}
	}
}
