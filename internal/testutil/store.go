// Package testutil holds in-memory stand-ins for the datastore, the payment
// gateway and the side channels, with the same atomicity the real ones give.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"sort"
	"sync"
	"time"
)

var ErrInjected = errors.New("injected failure")

type stock struct {
	available int
	reserved  int
}

type state struct {
	orders       map[string]orders.Order
	items        map[string][]orders.OrderItem
	payments     map[string]orders.Payment
	stock        map[string]stock
	reservations []inventory.Reservation
	sold         map[string]int
}

func (st state) clone() state {
	c := state{
		orders:       make(map[string]orders.Order, len(st.orders)),
		items:        make(map[string][]orders.OrderItem, len(st.items)),
		payments:     make(map[string]orders.Payment, len(st.payments)),
		stock:        make(map[string]stock, len(st.stock)),
		reservations: append([]inventory.Reservation(nil), st.reservations...),
		sold:         make(map[string]int, len(st.sold)),
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.items {
		c.items[k] = append([]orders.OrderItem(nil), v...)
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.stock {
		c.stock[k] = v
	}
	for k, v := range st.sold {
		c.sold[k] = v
	}
	return c
}

// Store is one in-memory database: catalog, orders and the stock ledger.
// Every method is atomic under one mutex and InTx rolls back by snapshot.
//
// Fail maps an operation name ("Variants", "Availability", "InsertOrder",
// "InsertItems", "Reserve", "ReleaseOrder", "DeleteDraft", "Get", "MarkPaid",
// "InsertPayment", "Items", "Fulfill", "DeleteReservations",
// "MarkInventoryCommitted") to the error it returns. FailReserveAt makes the
// n-th Reserve call (1-based) fail with ErrInsufficientInventory.
type Store struct {
	mu       sync.Mutex
	variants map[string]catalog.Variant
	st       state
	calls    map[string]int

	Fail          map[string]error
	FailReserveAt int
	// FailFulfillAt makes only the n-th Fulfill call fail with ErrInjected.
	FailFulfillAt int
}

func NewStore() *Store {
	return &Store{
		variants: map[string]catalog.Variant{},
		st: state{
			orders:   map[string]orders.Order{},
			items:    map[string][]orders.OrderItem{},
			payments: map[string]orders.Payment{},
			stock:    map[string]stock{},
			sold:     map[string]int{},
		},
		calls: map[string]int{},
		Fail:  map[string]error{},
	}
}

// AddVariant registers a sellable variant with stock on hand. An empty
// price id leaves the variant unconfigured for checkout.
func (s *Store) AddVariant(id, product, price string, available int, priceID string) catalog.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := catalog.Variant{
		ID:          id,
		ProductID:   "prod-" + id,
		ProductName: product,
		SKU:         "SKU-" + id,
		VariantName: "Default",
		Price:       decimal.RequireFromString(price),
		IsActive:    true,
	}
	if priceID != "" {
		v.StripePriceID = &priceID
	}
	s.variants[id] = v
	s.st.stock[id] = stock{available: available}
	return v
}

func (s *Store) SetVariant(v catalog.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

// PutOrder seeds an order and its items directly.
func (s *Store) PutOrder(o orders.Order, items ...orders.OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.orders[o.ID] = o
	s.st.items[o.ID] = items
}

// Hold seeds a live reservation, moving stock the way Reserve does.
func (s *Store) Hold(orderID, variantID string, qty int, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserve(inventory.Reservation{OrderID: orderID, VariantID: variantID, Quantity: qty, ExpiresAt: expiresAt})
}

func (s *Store) call(op string) error {
	s.calls[op]++
	return s.Fail[op]
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Stock returns (available, reserved) for a variant.
func (s *Store) Stock(variantID string) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st.stock[variantID]
	return st.available, st.reserved
}

// Sold is the total quantity committed as sales for a variant.
func (s *Store) Sold(variantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.sold[variantID]
}

func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Payments() []orders.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Payment, 0, len(s.st.payments))
	for _, p := range s.st.payments {
		out = append(out, p)
	}
	return out
}

func (s *Store) Reservations() []inventory.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Reservation(nil), s.st.reservations...)
}

func (s *Store) ItemsOf(orderID string) []orders.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.OrderItem(nil), s.st.items[orderID]...)
}

// catalog

func (s *Store) Variants(_ context.Context, ids []string) (map[string]catalog.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Variants"); err != nil {
		return nil, err
	}
	out := map[string]catalog.Variant{}
	for _, id := range ids {
		if v, ok := s.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *Store) Availability(_ context.Context, ids []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Availability"); err != nil {
		return nil, err
	}
	out := map[string]int{}
	for _, id := range ids {
		if st, ok := s.st.stock[id]; ok {
			out[id] = st.available
		}
	}
	return out, nil
}

// orders

type memTx struct{ s *Store }

// InTx holds the store lock for the whole unit of work and restores the
// snapshot if fn fails.
func (s *Store) InTx(_ context.Context, fn func(orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.st.clone()
	if err := fn(memTx{s}); err != nil {
		s.st = snap
		return err
	}
	return nil
}

func (t memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := t.s.call("InsertOrder"); err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, ok := t.s.st.orders[o.ID]; ok {
		return fmt.Errorf("order %s exists", o.ID)
	}
	t.s.st.orders[o.ID] = *o
	return nil
}

func (t memTx) InsertItems(_ context.Context, items []orders.OrderItem) error {
	if err := t.s.call("InsertItems"); err != nil {
		return err
	}
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		t.s.st.items[it.OrderID] = append(t.s.st.items[it.OrderID], it)
	}
	return nil
}

func (t memTx) Reserve(_ context.Context, r inventory.Reservation) error {
	if err := t.s.call("Reserve"); err != nil {
		return err
	}
	if t.s.FailReserveAt > 0 && t.s.calls["Reserve"] == t.s.FailReserveAt {
		return inventory.ErrInsufficientInventory
	}
	return t.s.reserve(r)
}

// Reserve outside a transaction, for exercising the race directly.
func (s *Store) Reserve(_ context.Context, r inventory.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Reserve"); err != nil {
		return err
	}
	return s.reserve(r)
}

func (s *Store) reserve(r inventory.Reservation) error {
	st, ok := s.st.stock[r.VariantID]
	if !ok || r.Quantity <= 0 || st.available < r.Quantity {
		return inventory.ErrInsufficientInventory
	}
	for _, ex := range s.st.reservations {
		if ex.OrderID == r.OrderID && ex.VariantID == r.VariantID {
			return fmt.Errorf("duplicate reservation %s/%s", r.OrderID, r.VariantID)
		}
	}
	st.available -= r.Quantity
	st.reserved += r.Quantity
	s.st.stock[r.VariantID] = st
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.st.reservations = append(s.st.reservations, r)
	return nil
}

func (s *Store) DeleteDraft(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("DeleteDraft"); err != nil {
		return err
	}
	if o, ok := s.st.orders[orderID]; !ok || o.Status != orders.StatusDraft {
		return nil
	}
	delete(s.st.orders, orderID)
	delete(s.st.items, orderID)
	s.st.reservations = without(s.st.reservations, orderID)
	return nil
}

func (s *Store) AttachSession(_ context.Context, orderID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("AttachSession"); err != nil {
		return err
	}
	o, ok := s.st.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	o.StripeSessionID = &sessionID
	s.st.orders[orderID] = o
	return nil
}

func (s *Store) Get(_ context.Context, orderID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Get"); err != nil {
		return orders.Order{}, err
	}
	o, ok := s.st.orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (s *Store) GetStatus(ctx context.Context, orderID string) (orders.Status, error) {
	o, err := s.Get(ctx, orderID)
	return o.Status, err
}

func (s *Store) GetWithItems(ctx context.Context, orderID string) (orders.OrderWithItems, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return orders.OrderWithItems{}, err
	}
	return orders.OrderWithItems{Order: o, Items: s.ItemsOf(orderID)}, nil
}

func (s *Store) MarkPaid(_ context.Context, orderID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("MarkPaid"); err != nil {
		return false, err
	}
	o, ok := s.st.orders[orderID]
	if !ok || !orders.CanTransition(o.Status, orders.StatusPaid) {
		return false, nil
	}
	ps := orders.PaymentSucceeded
	o.Status, o.PaymentStatus, o.PaidAt, o.UpdatedAt = orders.StatusPaid, &ps, &at, at
	s.st.orders[orderID] = o
	return true, nil
}

func (s *Store) InsertPayment(_ context.Context, p orders.Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("InsertPayment"); err != nil {
		return false, err
	}
	if _, ok := s.st.payments[p.OrderID]; ok {
		return false, nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.st.payments[p.OrderID] = p
	return true, nil
}

func (s *Store) Items(_ context.Context, orderID string) ([]orders.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Items"); err != nil {
		return nil, err
	}
	return append([]orders.OrderItem(nil), s.st.items[orderID]...), nil
}

func (s *Store) MarkInventoryCommitted(_ context.Context, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("MarkInventoryCommitted"); err != nil {
		return err
	}
	o, ok := s.st.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	if o.InventoryCommittedAt == nil {
		o.InventoryCommittedAt = &at
		s.st.orders[orderID] = o
	}
	return nil
}

func (s *Store) CancelExpiredDrafts(_ context.Context, orderIDs []string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range orderIDs {
		o, ok := s.st.orders[id]
		if !ok || o.Status != orders.StatusDraft || s.liveHolds(id) {
			continue
		}
		o.Status, o.CancelledAt = orders.StatusCancelled, &at
		s.st.orders[id] = o
		n++
	}
	return n, nil
}

func (s *Store) liveHolds(orderID string) bool {
	for _, r := range s.st.reservations {
		if r.OrderID == orderID && r.ReleasedAt == nil && r.FulfilledAt == nil {
			return true
		}
	}
	return false
}

// ledger

// ReleaseOrder releases the order's live holds and stamps them released.
func (s *Store) ReleaseOrder(_ context.Context, orderID string) ([]inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("ReleaseOrder"); err != nil {
		return nil, err
	}
	snap := s.st.clone()
	var out []inventory.Reservation
	now := time.Now()
	for i := range s.st.reservations {
		r := &s.st.reservations[i]
		if r.OrderID != orderID || r.ReleasedAt != nil || r.FulfilledAt != nil {
			continue
		}
		if err := s.release(r.VariantID, r.Quantity); err != nil {
			s.st = snap
			return nil, err
		}
		at := now
		r.ReleasedAt = &at
		out = append(out, *r)
	}
	return out, nil
}

func (s *Store) release(variantID string, qty int) error {
	st, ok := s.st.stock[variantID]
	if !ok || st.reserved < qty {
		return inventory.ErrNotFound
	}
	st.available += qty
	st.reserved -= qty
	s.st.stock[variantID] = st
	return nil
}

func (s *Store) Fulfill(_ context.Context, orderID, variantID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Fulfill"); err != nil {
		return err
	}
	if s.FailFulfillAt > 0 && s.calls["Fulfill"] == s.FailFulfillAt {
		return ErrInjected
	}
	for i := range s.st.reservations {
		r := &s.st.reservations[i]
		if r.OrderID != orderID || r.VariantID != variantID {
			continue
		}
		if r.FulfilledAt != nil {
			return nil
		}
		if r.Quantity != qty {
			return inventory.ErrNotFound
		}
		st := s.st.stock[variantID]
		if r.ReleasedAt == nil {
			if st.reserved < qty {
				return inventory.ErrNotFound
			}
			st.reserved -= qty
		} else {
			if st.available < qty {
				return inventory.ErrOversold
			}
			st.available -= qty
		}
		s.st.stock[variantID] = st
		s.st.sold[variantID] += qty
		now := time.Now()
		r.FulfilledAt = &now
		return nil
	}
	return inventory.ErrNotFound
}

func (s *Store) DeleteReservations(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("DeleteReservations"); err != nil {
		return err
	}
	s.st.reservations = without(s.st.reservations, orderID)
	return nil
}

func (s *Store) ReleaseExpired(_ context.Context, now time.Time, limit int) ([]inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("ReleaseExpired"); err != nil {
		return nil, err
	}
	var out []inventory.Reservation
	for i := range s.st.reservations {
		if len(out) == limit {
			break
		}
		r := &s.st.reservations[i]
		if r.ReleasedAt != nil || r.FulfilledAt != nil || r.ExpiresAt.After(now) {
			continue
		}
		if o, ok := s.st.orders[r.OrderID]; ok && (o.Status == orders.StatusPaid || o.Status == orders.StatusProcessing) {
			continue
		}
		if err := s.release(r.VariantID, r.Quantity); err != nil {
			return nil, err
		}
		at := now
		r.ReleasedAt = &at
		out = append(out, *r)
	}
	return out, nil
}

func without(rs []inventory.Reservation, orderID string) []inventory.Reservation {
	out := rs[:0:0]
	for _, r := range rs {
		if r.OrderID != orderID {
			out = append(out, r)
		}
	}
	return out
}
