// Package checkout turns a client cart into a draft order, inventory holds
// and a hosted payment session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/ariefcatur/go-storefront-checkout/internal/metrics"
	"github.com/ariefcatur/go-storefront-checkout/internal/money"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

// The gateway refuses session expiries shorter than this.
const minSessionExpiry = 30 * time.Minute

type Catalog interface {
	Variants(ctx context.Context, ids []string) (map[string]catalog.Variant, error)
	Availability(ctx context.Context, ids []string) (map[string]int, error)
}

type OrderStore interface {
	InTx(ctx context.Context, fn func(orders.Tx) error) error
	DeleteDraft(ctx context.Context, orderID string) error
	AttachSession(ctx context.Context, orderID, sessionID string) error
}

type Ledger interface {
	ReleaseOrder(ctx context.Context, orderID string) ([]inventory.Reservation, error)
}

type Service struct {
	Catalog Catalog
	Orders  OrderStore
	Ledger  Ledger
	Gateway payment.Gateway

	BaseURL string
	Hold    time.Duration
	Timeout time.Duration // per datastore/gateway call

	Now   func() time.Time
	NewID func() string

	Log     *logging.Logger
	Metrics *metrics.Metrics
}

type Result struct {
	OrderID     string       `json:"order_id"`
	OrderNumber string       `json:"order_number"`
	SessionID   string       `json:"session_id"`
	SessionURL  string       `json:"session_url"`
	Totals      money.Totals `json:"totals"`
}

type line struct {
	variant     catalog.Variant
	productName string
	quantity    int
}

// stageError tags a failure inside the draft transaction with the stage it
// came from.
type stageError struct {
	kind    Kind
	product string
	err     error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// Checkout runs the whole pipeline once. It never panics and every failure
// is a *Error; whatever this call committed has been undone before it
// returns a downstream failure.
func (s *Service) Checkout(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error(logging.Fields{Step: "checkout", Message: "panic"}, fmt.Errorf("%v", r))
			res, err = Result{}, &Error{Kind: KindUnexpected, Message: "An unexpected error occurred. Please try again."}
		}
		outcome := "success"
		var ce *Error
		if errors.As(err, &ce) {
			outcome = string(ce.Kind)
		}
		s.Metrics.Checkout(outcome)
		s.Log.Info(logging.Fields{Step: "checkout", Status: outcome, OrderID: res.OrderID, SessionID: res.SessionID,
			DurationMS: time.Since(start).Milliseconds()})
	}()

	res, cerr := s.checkout(ctx, req)
	if cerr != nil {
		return Result{}, cerr
	}
	return res, nil
}

func (s *Service) checkout(ctx context.Context, req Request) (Result, *Error) {
	// 1. input shape and policy, before any I/O
	if e := ValidateRequest(req); e != nil {
		return Result{}, e
	}
	claimed := make([]money.Line, 0, len(req.Items))
	for _, it := range req.Items {
		claimed = append(claimed, money.Line{UnitPrice: it.Variant.Price, Quantity: it.Quantity})
	}
	if e := policyError(money.MinimumOrderCheck(len(req.Items), money.Subtotal(claimed))); e != nil {
		return Result{}, e
	}

	// 2. verify against the catalog
	ids := variantIDs(req.Items)
	variants, err := withTimeout(ctx, s.Timeout, func(ctx context.Context) (map[string]catalog.Variant, error) {
		return s.Catalog.Variants(ctx, ids)
	})
	if err != nil {
		s.Log.Error(logging.Fields{Step: "verify_cart"}, err)
		return Result{}, downstream(KindCatalogUnavailable, "Failed to verify cart items", err)
	}
	if e := VerifyCart(req.Items, variants); e != nil {
		return Result{}, e
	}
	lines := mergeLines(req.Items, variants)

	// 3. fast-fail stock check
	available, err := withTimeout(ctx, s.Timeout, func(ctx context.Context) (map[string]int, error) {
		return s.Catalog.Availability(ctx, ids)
	})
	if err != nil {
		s.Log.Error(logging.Fields{Step: "check_inventory"}, err)
		return Result{}, downstream(KindCatalogUnavailable, "Failed to check inventory", err)
	}
	if e := CheckAvailability(lines, available); e != nil {
		return Result{}, e
	}

	// 4. totals from authoritative prices only
	subtotal := authoritativeSubtotal(lines)
	if e := policyError(money.MinimumOrderCheck(len(lines), subtotal)); e != nil {
		return Result{}, e
	}
	totals := money.OrderTotal(subtotal, req.Customer.Address.State)

	now := s.now()
	order := s.draftOrder(req.Customer, totals, now)
	items := orderItems(order.ID, lines)
	expiresAt := now.Add(s.hold())

	// 5-7. draft, items and holds commit or roll back together
	var reserved []inventory.Reservation
	err = s.run(ctx, func(ctx context.Context) error {
		return s.Orders.InTx(ctx, func(tx orders.Tx) error {
			reserved = reserved[:0]
			if err := tx.InsertOrder(ctx, &order); err != nil {
				return &stageError{kind: KindOrderCreateFailed, err: err}
			}
			if err := tx.InsertItems(ctx, items); err != nil {
				return &stageError{kind: KindOrderItemsFailed, err: err}
			}
			for _, l := range lines {
				r := inventory.Reservation{VariantID: l.variant.ID, OrderID: order.ID, Quantity: l.quantity, ExpiresAt: expiresAt}
				if err := tx.Reserve(ctx, r); err != nil {
					return &stageError{kind: KindReservationFailed, product: l.productName, err: err}
				}
				reserved = append(reserved, r)
			}
			return nil
		})
	})
	if err != nil {
		reserved = nil
		return Result{}, s.draftFailure(order.ID, err)
	}

	// 8. hosted payment session
	sess, err := withTimeout(ctx, s.Timeout, func(ctx context.Context) (payment.Session, error) {
		return s.Gateway.CreateCheckoutSession(ctx, s.sessionRequest(order, req.Customer.Email, lines, expiresAt))
	})
	if err != nil {
		s.Log.Error(logging.Fields{Step: "create_payment_session", OrderID: order.ID}, err)
		s.compensate(ctx, order.ID, reserved)
		return Result{}, downstream(KindPaymentSessionFailed, "Failed to create payment session. Please try again.", err)
	}

	if err := s.run(ctx, func(ctx context.Context) error {
		return s.Orders.AttachSession(ctx, order.ID, sess.ID)
	}); err != nil {
		// the webhook finds the order through session metadata, so this is not fatal
		s.Log.Error(logging.Fields{Step: "attach_session", OrderID: order.ID, SessionID: sess.ID}, err)
	}

	return Result{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		SessionID:   sess.ID,
		SessionURL:  sess.URL,
		Totals:      totals,
	}, nil
}

func (s *Service) draftFailure(orderID string, err error) *Error {
	s.Log.Error(logging.Fields{Step: "create_draft", OrderID: orderID}, err)
	var se *stageError
	if !errors.As(err, &se) {
		return downstream(KindOrderCreateFailed, "Failed to create order", err)
	}
	switch se.kind {
	case KindOrderItemsFailed:
		return downstream(KindOrderItemsFailed, "Failed to create order items", err)
	case KindReservationFailed:
		if errors.Is(err, inventory.ErrInsufficientInventory) {
			e := productError(KindReservationFailed, se.product, `Insufficient inventory for "%s"`)
			e.Err = err
			return e
		}
		return downstream(KindReservationFailed, "Failed to reserve inventory", err)
	}
	return downstream(KindOrderCreateFailed, "Failed to create order", err)
}

// compensate undoes a committed draft: every hold made for it goes back to
// available stock, then the draft is deleted. Failures are logged only; the
// holds are stamped released, so a draft left behind by a failed delete is
// cancelled by the sweeper without touching stock again.
func (s *Service) compensate(ctx context.Context, orderID string, reserved []inventory.Reservation) {
	ctx = context.WithoutCancel(ctx)
	released, err := withTimeout(ctx, s.Timeout, func(ctx context.Context) ([]inventory.Reservation, error) {
		return s.Ledger.ReleaseOrder(ctx, orderID)
	})
	if err != nil {
		s.Log.Error(logging.Fields{Step: "compensate_release", OrderID: orderID}, err)
	} else if len(released) != len(reserved) {
		s.Log.Error(logging.Fields{Step: "compensate_release", OrderID: orderID,
			Message: fmt.Sprintf("released %d of %d holds", len(released), len(reserved))}, nil)
	}
	if err := s.run(ctx, func(ctx context.Context) error {
		return s.Orders.DeleteDraft(ctx, orderID)
	}); err != nil {
		s.Log.Error(logging.Fields{Step: "compensate_delete_order", OrderID: orderID}, err)
	}
}

func (s *Service) draftOrder(c Customer, t money.Totals, now time.Time) orders.Order {
	return orders.Order{
		ID:             s.newID(),
		OrderNumber:    money.GenerateOrderNumber(now),
		Status:         orders.StatusDraft,
		Subtotal:       t.Subtotal,
		DiscountAmount: decimal.Zero,
		TaxAmount:      t.Tax,
		DeliveryFee:    t.DeliveryFee,
		Total:          t.Total,
		Delivery: orders.Address{
			StreetAddress1:       c.Address.StreetAddress1,
			StreetAddress2:       c.Address.StreetAddress2,
			City:                 c.Address.City,
			State:                c.Address.State,
			ZipCode:              c.Address.ZipCode,
			Country:              c.Address.Country,
			DeliveryInstructions: c.Address.DeliveryInstructions,
		},
		Contact: orders.Contact{
			Email:     c.Email,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Phone:     c.Phone,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) sessionRequest(o orders.Order, email string, lines []line, expiresAt time.Time) payment.SessionRequest {
	req := payment.SessionRequest{
		OrderID:        o.ID,
		CustomerEmail:  email,
		SuccessURL:     s.BaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      s.BaseURL + "/checkout/cancelled",
		IdempotencyKey: payment.IdempotencyKey(o.ID),
	}
	for _, l := range lines {
		req.LineItems = append(req.LineItems, payment.LineItem{PriceID: *l.variant.StripePriceID, Quantity: int64(l.quantity)})
	}
	if s.hold() >= minSessionExpiry {
		req.ExpiresAt = expiresAt.Unix()
	}
	return req
}

func orderItems(orderID string, lines []line) []orders.OrderItem {
	out := make([]orders.OrderItem, 0, len(lines))
	for _, l := range lines {
		vid := l.variant.ID
		qty := decimal.NewFromInt(int64(l.quantity))
		out = append(out, orders.OrderItem{
			OrderID:     orderID,
			VariantID:   &vid,
			ProductName: l.productName,
			VariantName: l.variant.VariantName,
			SKU:         l.variant.SKU,
			Quantity:    l.quantity,
			UnitPrice:   l.variant.Price,
			LineTotal:   l.variant.Price.Mul(qty),
		})
	}
	return out
}

// mergeLines folds repeated variants into one line, keeping cart order.
func mergeLines(items []CartItem, variants map[string]catalog.Variant) []line {
	idx := map[string]int{}
	var out []line
	for _, it := range items {
		if i, ok := idx[it.Variant.ID]; ok {
			out[i].quantity += it.Quantity
			continue
		}
		idx[it.Variant.ID] = len(out)
		out = append(out, line{variant: variants[it.Variant.ID], productName: it.Product.Name, quantity: it.Quantity})
	}
	return out
}

func authoritativeSubtotal(lines []line) decimal.Decimal {
	ml := make([]money.Line, 0, len(lines))
	for _, l := range lines {
		ml = append(ml, money.Line{UnitPrice: l.variant.Price, Quantity: l.quantity})
	}
	return money.Subtotal(ml)
}

func variantIDs(items []CartItem) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if !seen[it.Variant.ID] {
			seen[it.Variant.ID] = true
			out = append(out, it.Variant.ID)
		}
	}
	return out
}

func policyError(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, money.ErrEmptyCart):
		return &Error{Kind: KindEmptyCart, Message: err.Error(), Err: err}
	case errors.Is(err, money.ErrBelowMinimum):
		return &Error{Kind: KindBelowMinimum, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindInvalidInput, Message: "Invalid cart", Err: err}
}

func (s *Service) run(ctx context.Context, fn func(context.Context) error) error {
	_, err := withTimeout(ctx, s.Timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return fn(ctx)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) hold() time.Duration {
	if s.Hold > 0 {
		return s.Hold
	}
	return 30 * time.Minute
}
