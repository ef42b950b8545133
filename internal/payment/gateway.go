// Package payment talks to the hosted payment gateway. The rest of the
// service only sees the types in this file.
package payment

import (
	"context"
	"errors"
)

const (
	EventCheckoutCompleted = "checkout.session.completed"
	StatusPaid             = "paid"
	MetadataOrderID        = "order_id"
)

var (
	ErrSignatureInvalid = errors.New("webhook signature verification failed")
	ErrSessionNotFound  = errors.New("checkout session not found")
)

type LineItem struct {
	PriceID  string
	Quantity int64
}

type SessionRequest struct {
	OrderID        string
	CustomerEmail  string
	LineItems      []LineItem
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	ExpiresAt      int64 // unix seconds, 0 = gateway default
}

type Session struct {
	ID  string
	URL string
}

// CheckoutSession is the gateway's view of a completed (or not) hosted
// checkout. It deliberately has no card fields.
type CheckoutSession struct {
	ID              string
	PaymentStatus   string
	OrderID         string
	AmountTotal     int64
	Currency        string
	PaymentIntentID string
	CustomerID      string
	CustomerEmail   string
}

type Event struct {
	ID      string
	Type    string
	Session *CheckoutSession // nil unless Type == EventCheckoutCompleted
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error)
	RetrieveSession(ctx context.Context, id string) (CheckoutSession, error)
	// ConstructEvent verifies the signature over the raw body before
	// decoding anything.
	ConstructEvent(payload []byte, signature string) (Event, error)
}

// IdempotencyKey is derived from the order id so a retried create for the
// same draft never opens a second session.
func IdempotencyKey(orderID string) string {
	return "checkout_" + orderID
}
