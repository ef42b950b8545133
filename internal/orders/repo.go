package orders

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"time"
)

var ErrNotFound = errors.New("order not found")

// Tx is the unit of work the checkout runs its draft stages in.
type Tx interface {
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, items []OrderItem) error
	Reserve(ctx context.Context, r inventory.Reservation) error
}

// Store uses the service-role pool: guest checkout has no principal for
// row-level security to authorize against.
type Store struct {
	DB     *pgxpool.Pool
	Ledger *inventory.Ledger
}

type pgTx struct {
	tx     pgx.Tx
	ledger *inventory.Ledger
}

// InTx runs fn in one database transaction; a failing stage rolls back the
// order, its items and every reservation made so far.
func (s *Store) InTx(ctx context.Context, fn func(Tx) error) error {
	return postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, ledger: s.Ledger})
	})
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(
			id, order_number, customer_id, status,
			subtotal, discount_amount, tax_amount, delivery_fee, total,
			delivery_street_address_1, delivery_street_address_2, delivery_city, delivery_state,
			delivery_zip_code, delivery_country, delivery_instructions,
			customer_email, customer_phone, customer_first_name, customer_last_name,
			payment_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,NULL)`,
		o.ID, o.OrderNumber, o.CustomerID, string(o.Status),
		o.Subtotal, o.DiscountAmount, o.TaxAmount, o.DeliveryFee, o.Total,
		o.Delivery.StreetAddress1, nullable(o.Delivery.StreetAddress2), o.Delivery.City, o.Delivery.State,
		o.Delivery.ZipCode, o.Delivery.Country, nullable(o.Delivery.DeliveryInstructions),
		o.Contact.Email, nullable(o.Contact.Phone), o.Contact.FirstName, o.Contact.LastName,
	)
	return err
}

func (t *pgTx) InsertItems(ctx context.Context, items []OrderItem) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
			INSERT INTO order_items(order_id, item_type, variant_id, product_name, variant_name, sku, quantity, unit_price, line_total)
			VALUES ($1, 'product', $2, $3, $4, $5, $6, $7, $8)`,
			it.OrderID, it.VariantID, it.ProductName, it.VariantName, it.SKU, it.Quantity, it.UnitPrice, it.LineTotal)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) Reserve(ctx context.Context, r inventory.Reservation) error {
	return t.ledger.Reserve(ctx, t.tx, r)
}

// DeleteDraft removes a draft and, by cascade, its items and reservation
// rows. Orders past draft are never deleted here.
func (s *Store) DeleteDraft(ctx context.Context, orderID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND status = $2`, orderID, string(StatusDraft))
	return err
}

func (s *Store) AttachSession(ctx context.Context, orderID, sessionID string) error {
	_, err := s.DB.Exec(ctx, `UPDATE orders SET stripe_session_id = $2, updated_at = now() WHERE id = $1`, orderID, sessionID)
	return err
}

const orderColumns = `
	id, order_number, customer_id, status,
	subtotal, discount_amount, tax_amount, delivery_fee, total,
	delivery_street_address_1, COALESCE(delivery_street_address_2, ''), delivery_city, delivery_state,
	delivery_zip_code, delivery_country, COALESCE(delivery_instructions, ''),
	customer_email, COALESCE(customer_phone, ''), customer_first_name, customer_last_name,
	payment_status, stripe_session_id, created_at, updated_at, paid_at, cancelled_at, inventory_committed_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o       Order
		status  string
		payment *string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &status,
		&o.Subtotal, &o.DiscountAmount, &o.TaxAmount, &o.DeliveryFee, &o.Total,
		&o.Delivery.StreetAddress1, &o.Delivery.StreetAddress2, &o.Delivery.City, &o.Delivery.State,
		&o.Delivery.ZipCode, &o.Delivery.Country, &o.Delivery.DeliveryInstructions,
		&o.Contact.Email, &o.Contact.Phone, &o.Contact.FirstName, &o.Contact.LastName,
		&payment, &o.StripeSessionID, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.CancelledAt, &o.InventoryCommittedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if payment != nil {
		ps := PaymentStatus(*payment)
		o.PaymentStatus = &ps
	}
	return o, nil
}

func (s *Store) Get(ctx context.Context, orderID string) (Order, error) {
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
}

func (s *Store) GetStatus(ctx context.Context, orderID string) (Status, error) {
	var st string
	err := s.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(st), nil
}

func (s *Store) Items(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, variant_id, product_name, variant_name, sku, quantity, unit_price, line_total
		FROM order_items WHERE order_id = $1 ORDER BY sku`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.ProductName, &it.VariantName,
			&it.SKU, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) GetWithItems(ctx context.Context, orderID string) (OrderWithItems, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return OrderWithItems{}, err
	}
	items, err := s.Items(ctx, orderID)
	if err != nil {
		return OrderWithItems{}, err
	}
	return OrderWithItems{Order: o, Items: items}, nil
}

// MarkPaid moves the order to paid exactly once. The status guard makes a
// concurrent duplicate delivery see updated=false instead of writing twice,
// and a paid order is never moved back.
func (s *Store) MarkPaid(ctx context.Context, orderID string, at time.Time) (bool, error) {
	from := PayableFrom()
	args := []any{orderID, string(StatusPaid), string(PaymentSucceeded), at}
	for _, st := range from {
		args = append(args, string(st))
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders
		SET status = $2, payment_status = $3, paid_at = $4, updated_at = now()
		WHERE id = $1 AND status IN (`+postgres.Placeholders(len(from), 5)+`)`, args...)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// InsertPayment writes the audit row once per order.
func (s *Store) InsertPayment(ctx context.Context, p Payment) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO payments(order_id, stripe_payment_intent_id, stripe_customer_id, amount, currency, status, payment_method_type, succeeded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING`,
		p.OrderID, p.StripePaymentIntentID, p.StripeCustomerID, p.Amount, p.Currency, string(p.Status), p.PaymentMethodType, p.SucceededAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Store) MarkInventoryCommitted(ctx context.Context, orderID string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE orders SET inventory_committed_at = $2, updated_at = now()
		WHERE id = $1 AND inventory_committed_at IS NULL`, orderID, at)
	return err
}

// CancelExpiredDrafts cancels drafts among orderIDs that no longer hold any
// live reservation.
func (s *Store) CancelExpiredDrafts(ctx context.Context, orderIDs []string, at time.Time) (int, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	args := append([]any{string(StatusCancelled), at, string(StatusDraft)}, postgres.Args(orderIDs)...)
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders o
		SET status = $1, cancelled_at = $2, updated_at = now()
		WHERE o.status = $3
		  AND o.id IN (`+postgres.Placeholders(len(orderIDs), 4)+`)
		  AND NOT EXISTS (
			SELECT 1 FROM inventory_reservations r
			WHERE r.order_id = o.id AND r.released_at IS NULL AND r.fulfilled_at IS NULL)`, args...)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
