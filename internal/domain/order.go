package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ShippingAddress is the delivery destination collected at checkout
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Missing returns the names of required fields that are blank.
func (a ShippingAddress) Missing() []string {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"full_name", a.FullName},
		{"address", a.Address},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// CheckoutRequest is the payload posted to place an order. Items and Total
// are filled from the current cart by the cart controller.
type CheckoutRequest struct {
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	SaveCard        bool            `json:"save_card"`
	Items           []CartItem      `json:"items"`
	Total           decimal.Decimal `json:"total"`
}

// Validate checks the user-supplied checkout fields.
func (r CheckoutRequest) Validate() error {
	missing := r.ShippingAddress.Missing()
	if strings.TrimSpace(r.PaymentMethod) == "" {
		missing = append(missing, "payment_method")
	}
	if len(missing) > 0 {
		return NewValidationError("Missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// Order is the result of a successful checkout
type Order struct {
	OrderID string `json:"order_id"`
}
