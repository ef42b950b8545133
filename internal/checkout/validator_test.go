package checkout

import (
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func validRequest(items ...CartItem) Request {
	return Request{
		Customer: Customer{
			Email:     "ada@example.com",
			FirstName: "Ada",
			LastName:  "Lovelace",
			Address: Address{
				StreetAddress1: "12 Analytical Way",
				City:           "Oakland",
				State:          "CA",
				ZipCode:        "94607",
				Country:        "US",
			},
		},
		Items: items,
	}
}

func item(variantID, name, price string, qty int) CartItem {
	return CartItem{
		Product:  CartProduct{ID: "prod-" + variantID, Name: name},
		Variant:  CartVariant{ID: variantID, Price: decimal.RequireFromString(price)},
		Quantity: qty,
	}
}

func TestValidateRequest(t *testing.T) {
	require.Nil(t, ValidateRequest(validRequest(item("v1", "Mug", "12.00", 1))))

	cases := []struct {
		name   string
		mutate func(*Request)
		msg    string
	}{
		{"empty cart", func(r *Request) { r.Items = nil }, "Cart cannot be empty"},
		{"bad email", func(r *Request) { r.Customer.Email = "not-an-email" }, "Invalid email address"},
		{"missing city", func(r *Request) { r.Customer.Address.City = "" }, "Invalid city: required"},
		{"short zip", func(r *Request) { r.Customer.Address.ZipCode = "123" }, "Zip code is required"},
		{"country code", func(r *Request) { r.Customer.Address.Country = "USA" }, "Country code must be 2 characters"},
		{"zero quantity", func(r *Request) { r.Items[0].Quantity = 0 }, "Quantity must be at least 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest(item("v1", "Mug", "12.00", 1))
			tc.mutate(&req)
			e := ValidateRequest(req)
			require.NotNil(t, e)
			assert.Equal(t, KindInvalidInput, e.Kind)
			assert.Equal(t, tc.msg, e.Message)
		})
	}
}

func variant(id, price string, priceID string) catalog.Variant {
	v := catalog.Variant{ID: id, Price: decimal.RequireFromString(price), IsActive: true}
	if priceID != "" {
		v.StripePriceID = &priceID
	}
	return v
}

func TestVerifyCart(t *testing.T) {
	variants := map[string]catalog.Variant{
		"v1": variant("v1", "25.00", "price_1"),
		"v2": variant("v2", "8.00", ""),
	}
	inactive := variant("v3", "9.00", "price_3")
	inactive.IsActive = false
	variants["v3"] = inactive

	cases := []struct {
		name string
		it   CartItem
		kind Kind
		msg  string
	}{
		{"unknown", item("nope", "Ghost", "1.00", 1), KindProductUnavailable, `Product "Ghost" is no longer available`},
		{"inactive", item("v3", "Old Mug", "9.00", 1), KindProductInactive, `Product "Old Mug" is currently unavailable`},
		{"price lower", item("v1", "Mug", "24.98", 1), KindPriceChanged, `Price for "Mug" has changed. Please refresh your cart.`},
		{"price higher", item("v1", "Mug", "25.02", 1), KindPriceChanged, `Price for "Mug" has changed. Please refresh your cart.`},
		{"not configured", item("v2", "Bowl", "8.00", 1), KindNotConfigured, `Product "Bowl" is not configured for checkout`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := VerifyCart([]CartItem{tc.it}, variants)
			require.NotNil(t, e)
			assert.Equal(t, tc.kind, e.Kind)
			assert.Equal(t, tc.msg, e.Message)
			assert.Equal(t, ClassCatalog, e.Kind.Class())
		})
	}

	t.Run("within a cent passes", func(t *testing.T) {
		assert.Nil(t, VerifyCart([]CartItem{item("v1", "Mug", "25.01", 1), item("v1", "Mug", "24.99", 1)}, variants))
	})

	t.Run("first failing item wins", func(t *testing.T) {
		e := VerifyCart([]CartItem{item("v1", "Mug", "25.00", 1), item("v2", "Bowl", "8.00", 1), item("nope", "Ghost", "1.00", 1)}, variants)
		require.NotNil(t, e)
		assert.Equal(t, "Bowl", e.Product)
	})
}

func TestCheckAvailability(t *testing.T) {
	lines := []line{
		{variant: variant("v1", "5.00", "p"), productName: "Mug", quantity: 2},
		{variant: variant("v2", "5.00", "p"), productName: "Bowl", quantity: 3},
	}
	assert.Nil(t, CheckAvailability(lines, map[string]int{"v1": 2, "v2": 3}))

	e := CheckAvailability(lines, map[string]int{"v1": 5, "v2": 2})
	require.NotNil(t, e)
	assert.Equal(t, KindInsufficientInventory, e.Kind)
	assert.Equal(t, `Insufficient inventory for "Bowl"`, e.Message)

	e = CheckAvailability(lines, map[string]int{"v2": 3})
	require.NotNil(t, e)
	assert.Equal(t, "Mug", e.Product)
}
