package checkout

import "fmt"

type Kind string

const (
	KindInvalidInput          Kind = "invalid_input"
	KindEmptyCart             Kind = "empty_cart"
	KindBelowMinimum          Kind = "below_minimum"
	KindProductUnavailable    Kind = "product_unavailable"
	KindProductInactive       Kind = "product_inactive"
	KindPriceChanged          Kind = "price_changed"
	KindNotConfigured         Kind = "not_configured_for_checkout"
	KindInsufficientInventory Kind = "insufficient_inventory"
	KindCatalogUnavailable    Kind = "catalog_unavailable"
	KindOrderCreateFailed     Kind = "order_create_failed"
	KindOrderItemsFailed      Kind = "order_items_failed"
	KindReservationFailed     Kind = "reservation_failed"
	KindPaymentSessionFailed  Kind = "payment_session_failed"
	KindUnexpected            Kind = "unexpected"
)

// Error is the only error Checkout returns. Message is safe to show to the
// shopper; Err keeps the cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Product string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Class groups kinds the way callers react to them.
type Class int

const (
	ClassInput Class = iota
	ClassCatalog
	ClassInventory
	ClassDownstream
)

func (k Kind) Class() Class {
	switch k {
	case KindInvalidInput, KindEmptyCart, KindBelowMinimum:
		return ClassInput
	case KindProductUnavailable, KindProductInactive, KindPriceChanged, KindNotConfigured:
		return ClassCatalog
	case KindInsufficientInventory:
		return ClassInventory
	}
	return ClassDownstream
}

func productError(kind Kind, product, format string) *Error {
	return &Error{Kind: kind, Product: product, Message: fmt.Sprintf(format, product)}
}

func downstream(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
