// Package fulfillment turns a verified "checkout completed" gateway event
// into a paid order with committed stock.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/ariefcatur/go-storefront-checkout/internal/metrics"
	"github.com/ariefcatur/go-storefront-checkout/internal/money"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payment"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrMalformedEvent   = errors.New("missing order_id in session metadata")
)

// TransientError means the gateway should redeliver.
type TransientError struct {
	Step string
	Err  error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

type Orders interface {
	Get(ctx context.Context, orderID string) (orders.Order, error)
	MarkPaid(ctx context.Context, orderID string, at time.Time) (bool, error)
	InsertPayment(ctx context.Context, p orders.Payment) (bool, error)
	Items(ctx context.Context, orderID string) ([]orders.OrderItem, error)
	MarkInventoryCommitted(ctx context.Context, orderID string, at time.Time) error
}

type Ledger interface {
	Fulfill(ctx context.Context, orderID, variantID string, qty int) error
	DeleteReservations(ctx context.Context, orderID string) error
}

// Deduper remembers event ids that were fully processed. It is a fast path
// only; the order row stays the source of truth.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Notifier must return without waiting on delivery.
type Notifier interface {
	OrderPaid(ctx context.Context, p orders.OrderPaidPayload)
}

// Outcome says what a successful Process did, for logs and metrics.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnpaid    Outcome = "unpaid"
	OutcomeDuplicate Outcome = "duplicate"
)

type Service struct {
	Gateway payment.Gateway
	Orders  Orders
	Ledger  Ledger
	Dedup   Deduper  // optional
	Notify  Notifier // optional

	Timeout time.Duration
	Now     func() time.Time

	Log     *logging.Logger
	Metrics *metrics.Metrics
}

// Process handles one delivery. A nil error means 200. ErrSignatureInvalid
// and ErrMalformedEvent mean 400; anything else means 500.
func (s *Service) Process(ctx context.Context, payload []byte, signature string) (out Outcome, err error) {
	var ev payment.Event
	defer func() {
		if r := recover(); r != nil {
			out, err = "", &TransientError{Step: "panic", Err: fmt.Errorf("%v", r)}
		}
		result := string(out)
		if err != nil {
			result = "error"
			s.Log.Error(logging.Fields{Step: "webhook", EventID: ev.ID, Message: ev.Type}, err)
		}
		s.Metrics.Webhook(ev.Type, result)
	}()

	// 1. authenticate before reading anything out of the body
	ev, err = s.Gateway.ConstructEvent(payload, signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	// 2. only completed checkouts matter
	if ev.Type != payment.EventCheckoutCompleted || ev.Session == nil {
		return OutcomeIgnored, nil
	}
	sess := ev.Session

	// 3. a completed UI flow is not necessarily a successful charge
	if sess.PaymentStatus != payment.StatusPaid {
		s.Log.Info(logging.Fields{Step: "webhook", EventID: ev.ID, SessionID: sess.ID, Status: string(OutcomeUnpaid), Message: sess.PaymentStatus})
		return OutcomeUnpaid, nil
	}

	// 4. sessions created elsewhere are not ours to fulfill
	if sess.OrderID == "" {
		return "", ErrMalformedEvent
	}

	if s.seen(ctx, ev.ID) {
		return OutcomeDuplicate, nil
	}

	// 5. idempotency gate
	order, err := s.getOrder(ctx, sess.OrderID)
	if err != nil {
		return "", &TransientError{Step: "fetch_order", Err: err}
	}
	settled := order.Status.Settled()
	if settled && order.InventoryCommittedAt != nil {
		s.mark(ctx, ev.ID)
		return OutcomeDuplicate, nil
	}

	now := s.now()
	if !settled {
		// 6. finalize
		if _, err := s.markPaid(ctx, order.ID, now); err != nil {
			return "", &TransientError{Step: "mark_paid", Err: err}
		}
	}

	// 7. audit row, at most one per order; a redelivery fills it in when an
	// earlier attempt could not. Never fails the webhook.
	s.recordPayment(ctx, order, sess, now)

	// 8. commit stock, per (order, variant) so a retry never applies twice
	if err := s.fulfill(ctx, order.ID); err != nil {
		return "", &TransientError{Step: "fulfill_inventory", Err: err}
	}

	// 9. the holds are done
	if err := s.call(ctx, func(ctx context.Context) error { return s.Ledger.DeleteReservations(ctx, order.ID) }); err != nil {
		s.Log.Error(logging.Fields{Step: "delete_reservations", OrderID: order.ID}, err)
	}

	// 10.
	if s.Notify != nil {
		s.Notify.OrderPaid(ctx, orders.OrderPaidPayload{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			SessionID:     sess.ID,
			CustomerEmail: order.Contact.Email,
			AmountTotal:   sess.AmountTotal,
			Currency:      sess.Currency,
		})
	}
	s.mark(ctx, ev.ID)

	s.Log.Info(logging.Fields{Step: "webhook", EventID: ev.ID, OrderID: order.ID, SessionID: sess.ID, Status: string(OutcomeProcessed)})
	return OutcomeProcessed, nil
}

func (s *Service) fulfill(ctx context.Context, orderID string) error {
	var items []orders.OrderItem
	err := s.call(ctx, func(ctx context.Context) (err error) {
		items, err = s.Orders.Items(ctx, orderID)
		return err
	})
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.VariantID == nil {
			continue
		}
		vid := *it.VariantID
		err := s.call(ctx, func(ctx context.Context) error { return s.Ledger.Fulfill(ctx, orderID, vid, it.Quantity) })
		switch {
		case err == nil:
		case errors.Is(err, inventory.ErrOversold):
			// the customer has paid; redelivery cannot bring the stock back
			s.Metrics.Reconcile("oversold")
			s.Log.Error(logging.Fields{Step: "fulfill_inventory", OrderID: orderID, VariantID: vid, Status: "reconcile"}, err)
		default:
			return fmt.Errorf("variant %s: %w", vid, err)
		}
	}
	return s.call(ctx, func(ctx context.Context) error {
		return s.Orders.MarkInventoryCommitted(ctx, orderID, s.now())
	})
}

func (s *Service) recordPayment(ctx context.Context, o orders.Order, sess *payment.CheckoutSession, now time.Time) {
	p := orders.Payment{
		OrderID:               o.ID,
		StripePaymentIntentID: sess.PaymentIntentID,
		Amount:                money.FromMinorUnits(sess.AmountTotal),
		Currency:              sess.Currency,
		Status:                orders.PaymentSucceeded,
		PaymentMethodType:     "card",
		SucceededAt:           now,
	}
	if sess.CustomerID != "" {
		cid := sess.CustomerID
		p.StripeCustomerID = &cid
	}
	err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.Orders.InsertPayment(ctx, p)
		return err
	})
	if err != nil {
		s.Metrics.Reconcile("payment_record")
		s.Log.Error(logging.Fields{Step: "record_payment", OrderID: o.ID, SessionID: sess.ID}, err)
	}
}

func (s *Service) getOrder(ctx context.Context, id string) (o orders.Order, err error) {
	err = s.call(ctx, func(ctx context.Context) error {
		o, err = s.Orders.Get(ctx, id)
		return err
	})
	return o, err
}

func (s *Service) markPaid(ctx context.Context, id string, at time.Time) (updated bool, err error) {
	err = s.call(ctx, func(ctx context.Context) error {
		updated, err = s.Orders.MarkPaid(ctx, id, at)
		return err
	})
	return updated, err
}

func (s *Service) seen(ctx context.Context, eventID string) bool {
	if s.Dedup == nil || eventID == "" {
		return false
	}
	var ok bool
	err := s.call(ctx, func(ctx context.Context) (err error) {
		ok, err = s.Dedup.Seen(ctx, eventID)
		return err
	})
	if err != nil {
		s.Log.Error(logging.Fields{Step: "dedup_check", EventID: eventID}, err)
		return false
	}
	return ok
}

func (s *Service) mark(ctx context.Context, eventID string) {
	if s.Dedup == nil || eventID == "" {
		return
	}
	if err := s.call(ctx, func(ctx context.Context) error { return s.Dedup.Mark(ctx, eventID) }); err != nil {
		s.Log.Error(logging.Fields{Step: "dedup_mark", EventID: eventID}, err)
	}
}

// call bounds one dependency call so a hung store turns into a retry.
func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
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
