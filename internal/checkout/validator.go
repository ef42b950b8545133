package checkout

import (
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/money"
)

// VerifyCart checks every claimed line against the authoritative variants:
// existence, then active, then price, then payment configuration. The first
// failing item wins.
func VerifyCart(items []CartItem, variants map[string]catalog.Variant) *Error {
	for _, it := range items {
		name := it.Product.Name
		v, ok := variants[it.Variant.ID]
		if !ok {
			return productError(KindProductUnavailable, name, `Product "%s" is no longer available`)
		}
		if !v.IsActive {
			return productError(KindProductInactive, name, `Product "%s" is currently unavailable`)
		}
		if !money.WithinTolerance(v.Price, it.Variant.Price) {
			return productError(KindPriceChanged, name, `Price for "%s" has changed. Please refresh your cart.`)
		}
		if v.StripePriceID == nil || *v.StripePriceID == "" {
			return productError(KindNotConfigured, name, `Product "%s" is not configured for checkout`)
		}
	}
	return nil
}

// CheckAvailability is the fast-fail pre-check. Reserve re-checks atomically.
func CheckAvailability(lines []line, available map[string]int) *Error {
	for _, l := range lines {
		if n, ok := available[l.variant.ID]; !ok || n < l.quantity {
			return productError(KindInsufficientInventory, l.productName, `Insufficient inventory for "%s"`)
		}
	}
	return nil
}
