package validation

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/billing-system/internal/model"
)

func validRequest() model.SettleRequest {
	return model.SettleRequest{
		CustomerEmail:  "buyer@example.com",
		Cart:           []model.CartLine{{ProductID: "P001", Quantity: 1}},
		TopUp:          map[int64]int64{500: 2},
		AmountTendered: decimal.NewFromInt(60000),
	}
}

func TestValidateSettleRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *model.SettleRequest)
		valid  bool
	}{
		{
			name:   "valid request",
			mutate: func(r *model.SettleRequest) {},
			valid:  true,
		},
		{
			name:   "nil top-up",
			mutate: func(r *model.SettleRequest) { r.TopUp = nil },
			valid:  true,
		},
		{
			name:   "empty email",
			mutate: func(r *model.SettleRequest) { r.CustomerEmail = "" },
			valid:  false,
		},
		{
			name:   "malformed email",
			mutate: func(r *model.SettleRequest) { r.CustomerEmail = "not-an-email" },
			valid:  false,
		},
		{
			name:   "empty cart",
			mutate: func(r *model.SettleRequest) { r.Cart = nil },
			valid:  false,
		},
		{
			name:   "zero quantity",
			mutate: func(r *model.SettleRequest) { r.Cart[0].Quantity = 0 },
			valid:  false,
		},
		{
			name:   "negative quantity",
			mutate: func(r *model.SettleRequest) { r.Cart[0].Quantity = -3 },
			valid:  false,
		},
		{
			name:   "empty product id",
			mutate: func(r *model.SettleRequest) { r.Cart[0].ProductID = "" },
			valid:  false,
		},
		{
			name:   "negative top-up count",
			mutate: func(r *model.SettleRequest) { r.TopUp = map[int64]int64{500: -1} },
			valid:  false,
		},
		{
			name:   "non-positive face value",
			mutate: func(r *model.SettleRequest) { r.TopUp = map[int64]int64{0: 1} },
			valid:  false,
		},
		{
			name:   "negative tender",
			mutate: func(r *model.SettleRequest) { r.AmountTendered = decimal.NewFromInt(-1) },
			valid:  false,
		},
		{
			name:   "fractional tender",
			mutate: func(r *model.SettleRequest) { r.AmountTendered = decimal.RequireFromString("100.50") },
			valid:  false,
		},
		{
			name:   "whole tender with trailing zeros",
			mutate: func(r *model.SettleRequest) { r.AmountTendered = decimal.RequireFromString("100.00") },
			valid:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := ValidateSettleRequest(req)
			if tt.valid && err != nil {
				t.Fatalf("ValidateSettleRequest() = %v, want nil", err)
			}
			if !tt.valid && err == nil {
				t.Fatalf("ValidateSettleRequest() = nil, want error")
			}
		})
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{email: "a@b.co", valid: true},
		{email: "first.last+tag@shop.example.org", valid: true},
		{email: "", valid: false},
		{email: "missing-at.example.com", valid: false},
		{email: "two@@example.com", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := IsValidEmail(tt.email); got != tt.valid {
				t.Fatalf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.valid)
			}
		})
	}
}
