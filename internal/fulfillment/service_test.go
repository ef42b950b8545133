package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type fixture struct {
	svc    *Service
	store  *testutil.Store
	gw     *testutil.Gateway
	notify *testutil.Notifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := testutil.NewStore()
	gw := testutil.NewGateway("whsec_test")
	n := &testutil.Notifier{}
	store.AddVariant("v1", "Mug", "12.00", 10, "price_1")
	store.AddVariant("v2", "Bowl", "8.00", 10, "price_2")
	return fixture{
		svc: &Service{
			Gateway: gw,
			Orders:  store,
			Ledger:  store,
			Notify:  n,
			Timeout: time.Second,
		},
		store:  store,
		gw:     gw,
		notify: n,
	}
}

// draft seeds an order holding one Mug and two Bowls.
func (f fixture) draft(t *testing.T, id string) {
	t.Helper()
	v1, v2 := "v1", "v2"
	f.store.PutOrder(
		orders.Order{ID: id, OrderNumber: "ORD-2026-001001", Status: orders.StatusDraft, Contact: orders.Contact{Email: "ada@example.com"}},
		orders.OrderItem{OrderID: id, VariantID: &v1, ProductName: "Mug", Quantity: 1, UnitPrice: decimal.NewFromInt(12)},
		orders.OrderItem{OrderID: id, VariantID: &v2, ProductName: "Bowl", Quantity: 2, UnitPrice: decimal.NewFromInt(8)},
	)
	require.NoError(t, f.store.Hold(id, "v1", 1, time.Now().Add(time.Hour)))
	require.NoError(t, f.store.Hold(id, "v2", 2, time.Now().Add(time.Hour)))
}

func TestProcessRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.draft(t, "o1")
	body, _ := f.gw.CompletedEvent("evt_1", "o1", "paid", 2800, nil)

	for _, sig := range []string{"", "deadbeef"} {
		_, err := f.svc.Process(context.Background(), body, sig)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	}
	assert.Zero(t, f.store.Calls("Get"))
	assert.Equal(t, orders.StatusDraft, f.store.Orders()[0].Status)
}

func TestProcessIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"ID":"evt_2","Type":"payment_intent.created"}`)

	out, err := f.svc.Process(context.Background(), body, f.gw.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Zero(t, f.store.Calls("Get"))
}

func TestProcessSkipsUnpaidSession(t *testing.T) {
	f := newFixture(t)
	f.draft(t, "o1")
	body, sig := f.gw.CompletedEvent("evt_3", "o1", "unpaid", 2800, nil)

	out, err := f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnpaid, out)
	assert.Equal(t, orders.StatusDraft, f.store.Orders()[0].Status)
	assert.Zero(t, f.notify.Count())
}

func TestProcessRejectsMissingOrderID(t *testing.T) {
	f := newFixture(t)
	body, sig := f.gw.CompletedEvent("evt_4", "", "paid", 2800, nil)

	_, err := f.svc.Process(context.Background(), body, sig)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Zero(t, f.store.Calls("Get"))
}

func TestProcessUnknownOrderIsTransient(t *testing.T) {
	f := newFixture(t)
	body, sig := f.gw.CompletedEvent("evt_5", "missing", "paid", 2800, nil)

	_, err := f.svc.Process(context.Background(), body, sig)
	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "fetch_order", te.Step)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestProcessTwiceAppliesOnce(t *testing.T) {
	f := newFixture(t)
	f.draft(t, "o1")
	body, sig := f.gw.CompletedEvent("evt_6", "o1", "paid", 3124, nil)

	out, err := f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)

	out, err = f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	o := f.store.Orders()[0]
	assert.Equal(t, orders.StatusPaid, o.Status)
	require.NotNil(t, o.PaymentStatus)
	assert.Equal(t, orders.PaymentSucceeded, *o.PaymentStatus)
	assert.NotNil(t, o.PaidAt)
	assert.NotNil(t, o.InventoryCommittedAt)

	payments := f.store.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, "31.24", payments[0].Amount.StringFixed(2))
	assert.Equal(t, "pi_evt_6", payments[0].StripePaymentIntentID)

	assert.Equal(t, 2, f.store.Calls("Fulfill"))
	assert.Equal(t, 1, f.store.Sold("v1"))
	assert.Equal(t, 2, f.store.Sold("v2"))
	avail, reserved := f.store.Stock("v2")
	assert.Equal(t, 8, avail)
	assert.Equal(t, 0, reserved)
	assert.Empty(t, f.store.Reservations())

	require.Equal(t, 1, f.notify.Count())
	assert.Equal(t, "ada@example.com", f.notify.Sent[0].CustomerEmail)
}

func TestProcessDedupSkipsKnownEvent(t *testing.T) {
	f := newFixture(t)
	f.svc.Dedup = &testutil.Deduper{}
	f.draft(t, "o1")
	body, sig := f.gw.CompletedEvent("evt_7", "o1", "paid", 3124, nil)

	_, err := f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	gets := f.store.Calls("Get")

	out, err := f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, gets, f.store.Calls("Get"))
}

func TestProcessDedupOutageFallsBackToOrderGate(t *testing.T) {
	f := newFixture(t)
	f.svc.Dedup = &testutil.Deduper{Err: errors.New("redis down")}
	f.draft(t, "o1")
	body, sig := f.gw.CompletedEvent("evt_8", "o1", "paid", 3124, nil)

	out, err := f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)
	out, err = f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Len(t, f.store.Payments(), 1)
}

func TestProcessPaymentRecordFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.draft(t, "o1")
	f.store.Fail["InsertPayment"] = testutil.ErrInjected
	body, sig := f.gw.CompletedEvent("evt_9", "o1", "paid", 3124, nil)

	out, err := f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)
	assert.Empty(t, f.store.Payments())
	assert.Equal(t, orders.StatusPaid, f.store.Orders()[0].Status)
	assert.Equal(t, 2, f.store.Sold("v2"))
}

func TestProcessRedeliveryRecordsMissingPayment(t *testing.T) {
	f := newFixture(t)
	f.draft(t, "o1")
	f.store.Fail["InsertPayment"] = testutil.ErrInjected
	f.store.FailFulfillAt = 1
	body, sig := f.gw.CompletedEvent("evt_11", "o1", "paid", 3124, nil)

	_, err := f.svc.Process(context.Background(), body, sig)
	require.Error(t, err)
	assert.Equal(t, orders.StatusPaid, f.store.Orders()[0].Status)
	assert.Empty(t, f.store.Payments())

	delete(f.store.Fail, "InsertPayment")
	out, err := f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)
	require.Len(t, f.store.Payments(), 1)
	assert.Equal(t, "o1", f.store.Payments()[0].OrderID)

	// fully committed now; a third delivery writes nothing
	out, err = f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, 2, f.store.Calls("InsertPayment"))
}

func TestProcessRetryAfterPartialFulfillment(t *testing.T) {
	f := newFixture(t)
	f.draft(t, "o1")
	f.store.FailFulfillAt = 2
	body, sig := f.gw.CompletedEvent("evt_10", "o1", "paid", 3124, nil)

	_, err := f.svc.Process(context.Background(), body, sig)
	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "fulfill_inventory", te.Step)
	assert.Equal(t, orders.StatusPaid, f.store.Orders()[0].Status)
	assert.Nil(t, f.store.Orders()[0].InventoryCommittedAt)
	assert.Equal(t, 1, f.store.Sold("v1"))
	assert.Zero(t, f.store.Sold("v2"))
	assert.Zero(t, f.notify.Count())

	out, err := f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)
	assert.Equal(t, 1, f.store.Sold("v1"))
	assert.Equal(t, 2, f.store.Sold("v2"))
	assert.Len(t, f.store.Payments(), 1)
	assert.Equal(t, 1, f.notify.Count())
	assert.NotNil(t, f.store.Orders()[0].InventoryCommittedAt)
}

func TestProcessOversoldHoldDoesNotFailWebhook(t *testing.T) {
	f := newFixture(t)
	f.draft(t, "o1")
	ctx := context.Background()

	// the sweeper ran early and another order took all the bowls
	_, err := f.store.ReleaseExpired(ctx, time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.NoError(t, f.store.Hold("o2", "v2", 10, time.Now().Add(time.Hour)))

	body, sig := f.gw.CompletedEvent("evt_11", "o1", "paid", 3124, nil)
	out, err := f.svc.Process(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)
	assert.Equal(t, 1, f.store.Sold("v1"))
	assert.Zero(t, f.store.Sold("v2"))
	assert.Equal(t, orders.StatusPaid, f.store.Orders()[0].Status)
}

func TestProcessMissingReservationIsTransient(t *testing.T) {
	f := newFixture(t)
	v1 := "v1"
	f.store.PutOrder(orders.Order{ID: "o1", Status: orders.StatusDraft},
		orders.OrderItem{OrderID: "o1", VariantID: &v1, Quantity: 1})
	body, sig := f.gw.CompletedEvent("evt_12", "o1", "paid", 1200, nil)

	_, err := f.svc.Process(context.Background(), body, sig)
	var te *TransientError
	assert.True(t, errors.As(err, &te))
}

func TestPaymentRecordCarriesNoCardData(t *testing.T) {
	f := newFixture(t)
	f.draft(t, "o1")
	body, sig := f.gw.CompletedEvent("evt_13", "o1", "paid", 3124, map[string]any{
		"PaymentMethodDetails": map[string]any{"card": map[string]any{"brand": "visa", "last4": "4242"}},
	})

	_, err := f.svc.Process(context.Background(), body, sig)
	require.NoError(t, err)

	payments := f.store.Payments()
	require.Len(t, payments, 1)
	raw, err := json.Marshal(payments[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "4242")
	assert.NotContains(t, string(raw), "visa")
	assert.NotContains(t, string(raw), "last4")
	assert.NotContains(t, string(raw), "brand")
}
