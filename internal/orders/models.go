package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

type Address struct {
	StreetAddress1       string `json:"street_address_1"`
	StreetAddress2       string `json:"street_address_2,omitempty"`
	City                 string `json:"city"`
	State                string `json:"state"`
	ZipCode              string `json:"zip_code"`
	Country              string `json:"country"`
	DeliveryInstructions string `json:"delivery_instructions,omitempty"`
}

type Contact struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	CustomerID      *string         `json:"customer_id,omitempty"`
	Status          Status          `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	Total           decimal.Decimal `json:"total"`
	Delivery        Address         `json:"delivery"`
	Contact         Contact         `json:"contact"`
	PaymentStatus   *PaymentStatus  `json:"payment_status,omitempty"`
	StripeSessionID *string         `json:"stripe_session_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	// Set once every stocked line has been committed by the webhook.
	InventoryCommittedAt *time.Time `json:"inventory_committed_at,omitempty"`
}

// OrderItem is a snapshot taken at purchase time and never follows later
// catalog changes.
type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	VariantID   *string         `json:"variant_id,omitempty"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Payment never carries card number, brand or last-4.
type Payment struct {
	ID                    string          `json:"id"`
	OrderID               string          `json:"order_id"`
	StripePaymentIntentID string          `json:"stripe_payment_intent_id"`
	StripeCustomerID      *string         `json:"stripe_customer_id,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Status                PaymentStatus   `json:"status"`
	PaymentMethodType     string          `json:"payment_method_type"`
	SucceededAt           time.Time       `json:"succeeded_at"`
}

// OrderWithItems is what the confirmation page renders.
type OrderWithItems struct {
	Order
	Items []OrderItem `json:"items"`
}
