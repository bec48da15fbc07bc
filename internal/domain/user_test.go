package domain

import "testing"

func TestUserProfile_IsSeller(t *testing.T) {
	tests := []struct {
		name string
		user *UserProfile
		want bool
	}{
		{"nil", nil, false},
		{"customer", &UserProfile{Role: RoleCustomer}, false},
		{"seller", &UserProfile{Role: RoleSeller}, true},
		{"lowercase seller", &UserProfile{Role: "seller"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.IsSeller(); got != tt.want {
				t.Errorf("IsSeller() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckoutRequest_Validate(t *testing.T) {
	valid := CheckoutRequest{
		ShippingAddress: ShippingAddress{
			FullName:   "Ada Lovelace",
			Address:    "1 Analytical Way",
			City:       "London",
			PostalCode: "N1",
			Country:    "UK",
		},
		PaymentMethod: "card",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	missing := valid
	missing.ShippingAddress.City = " "
	missing.PaymentMethod = ""
	err := missing.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want validation error")
	}
	if got := UserMessage(err, ""); got != "Missing required fields: city, payment_method" {
		t.Errorf("message = %q", got)
	}
}
