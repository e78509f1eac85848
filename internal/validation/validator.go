package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// reject carts that list the same photo/price-list pair twice; quantity
	// is the only sanctioned way to buy more than one
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := make(map[string]struct{}, len(req.Items))
	for _, it := range req.Items {
		key := it.PhotoID + "|" + it.PriceListItemID
		if _, dup := seen[key]; dup {
			sl.ReportError(req.Items, "items", "Items", "unique_lines",
				fmt.Sprintf("duplicate line for photo %s item %s", it.PhotoID, it.PriceListItemID))
			return
		}
		seen[key] = struct{}{}
	}
}
