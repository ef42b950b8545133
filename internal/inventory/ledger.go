// Package inventory is the stock ledger. Every mutation is a guarded UPDATE
// or runs under a row lock; nothing here reads a quantity into Go and writes
// it back.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"time"
)

var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrNotFound              = errors.New("reservation state not found")
	// ErrOversold means a reservation had already expired and been released
	// when payment arrived, and the stock is gone. Needs reconciliation.
	ErrOversold = errors.New("reservation released and stock no longer available")
)

type MovementType string

const (
	MovementRestock     MovementType = "restock"
	MovementSale        MovementType = "sale"
	MovementReservation MovementType = "reservation"
	MovementRelease     MovementType = "release"
	MovementAdjustment  MovementType = "adjustment"
)

type Record struct {
	VariantID         string
	QuantityAvailable int
	QuantityReserved  int
	LowStockThreshold int
	UpdatedAt         time.Time
}

type Reservation struct {
	ID          string
	VariantID   string
	OrderID     string
	Quantity    int
	ExpiresAt   time.Time
	ReleasedAt  *time.Time
	FulfilledAt *time.Time
}

type Ledger struct{ DB *pgxpool.Pool }

// Reserve moves qty from available to reserved and records the hold. The
// guard in the WHERE clause is the correctness boundary: of two concurrent
// callers racing for the last unit, exactly one sees a row affected.
func (l *Ledger) Reserve(ctx context.Context, q postgres.DBTX, r Reservation) error {
	if r.Quantity <= 0 {
		return fmt.Errorf("reserve %s: invalid quantity %d", r.VariantID, r.Quantity)
	}
	ct, err := q.Exec(ctx, `
		UPDATE inventory
		SET quantity_available = quantity_available - $2,
		    quantity_reserved  = quantity_reserved + $2,
		    updated_at = now()
		WHERE variant_id = $1 AND quantity_available >= $2`,
		r.VariantID, r.Quantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrInsufficientInventory
	}

	if _, err := q.Exec(ctx, `
		INSERT INTO inventory_reservations(variant_id, order_id, quantity, expires_at)
		VALUES ($1, $2, $3, $4)`,
		r.VariantID, r.OrderID, r.Quantity, r.ExpiresAt); err != nil {
		return err
	}
	return recordMovement(ctx, q, r.VariantID, MovementReservation, r.Quantity, r.OrderID)
}

// Release reverses a hold: reserved back to available.
func (l *Ledger) Release(ctx context.Context, variantID string, qty int) error {
	return postgres.InTx(ctx, l.DB, func(tx pgx.Tx) error {
		return release(ctx, tx, variantID, qty, "")
	})
}

// ReleaseOrder hands back every live hold of an order and stamps the rows
// released in the same transaction, so the expiry sweep never releases them
// a second time. Returns the holds it released.
func (l *Ledger) ReleaseOrder(ctx context.Context, orderID string) ([]Reservation, error) {
	var out []Reservation
	err := postgres.InTx(ctx, l.DB, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE inventory_reservations
			SET released_at = now()
			WHERE order_id = $1 AND released_at IS NULL AND fulfilled_at IS NULL
			RETURNING id, variant_id, order_id, quantity, expires_at, released_at`, orderID)
		if err != nil {
			return err
		}
		if out, err = scanReservations(rows); err != nil {
			return err
		}
		for _, r := range out {
			if err := release(ctx, tx, r.VariantID, r.Quantity, r.OrderID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.VariantID, &r.OrderID, &r.Quantity, &r.ExpiresAt, &r.ReleasedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func release(ctx context.Context, q postgres.DBTX, variantID string, qty int, orderID string) error {
	ct, err := q.Exec(ctx, `
		UPDATE inventory
		SET quantity_available = quantity_available + $2,
		    quantity_reserved  = quantity_reserved - $2,
		    updated_at = now()
		WHERE variant_id = $1 AND quantity_reserved >= $2`,
		variantID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return recordMovement(ctx, q, variantID, MovementRelease, qty, orderID)
}

// Fulfill commits the (order, variant) hold into a sale. Safe to call again
// for the same pair: an already fulfilled reservation is a no-op.
func (l *Ledger) Fulfill(ctx context.Context, orderID, variantID string, qty int) error {
	return postgres.InTx(ctx, l.DB, func(tx pgx.Tx) error {
		var (
			id          string
			held        int
			releasedAt  *time.Time
			fulfilledAt *time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT id, quantity, released_at, fulfilled_at
			FROM inventory_reservations
			WHERE order_id = $1 AND variant_id = $2
			FOR UPDATE`, orderID, variantID).Scan(&id, &held, &releasedAt, &fulfilledAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if fulfilledAt != nil {
			return nil
		}
		if held != qty {
			return fmt.Errorf("fulfill %s/%s: reserved %d, order line %d: %w", orderID, variantID, held, qty, ErrNotFound)
		}

		var ct pgconn.CommandTag
		if releasedAt == nil {
			ct, err = tx.Exec(ctx, `
				UPDATE inventory
				SET quantity_reserved = quantity_reserved - $2, updated_at = now()
				WHERE variant_id = $1 AND quantity_reserved >= $2`, variantID, qty)
			if err == nil && ct.RowsAffected() != 1 {
				return ErrNotFound
			}
		} else {
			// the sweeper already gave this stock back; take it again if it is still there
			ct, err = tx.Exec(ctx, `
				UPDATE inventory
				SET quantity_available = quantity_available - $2, updated_at = now()
				WHERE variant_id = $1 AND quantity_available >= $2`, variantID, qty)
			if err == nil && ct.RowsAffected() != 1 {
				return ErrOversold
			}
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE inventory_reservations SET fulfilled_at = now() WHERE id = $1`, id); err != nil {
			return err
		}
		return recordMovement(ctx, tx, variantID, MovementSale, qty, orderID)
	})
}

// DeleteReservations drops the rows for an order once they have served their
// purpose.
func (l *Ledger) DeleteReservations(ctx context.Context, orderID string) error {
	_, err := l.DB.Exec(ctx, `DELETE FROM inventory_reservations WHERE order_id = $1`, orderID)
	return err
}

// Available reads quantity_available for the given variants. Missing
// variants are absent from the map.
func Available(ctx context.Context, q postgres.DBTX, variantIDs []string) (map[string]int, error) {
	if len(variantIDs) == 0 {
		return map[string]int{}, nil
	}
	rows, err := q.Query(ctx, `SELECT variant_id, quantity_available FROM inventory WHERE variant_id IN (`+
		postgres.Placeholders(len(variantIDs), 1)+`)`, postgres.Args(variantIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int, len(variantIDs))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// Get returns the ledger record for one variant.
func (l *Ledger) Get(ctx context.Context, variantID string) (Record, error) {
	var r Record
	err := l.DB.QueryRow(ctx, `
		SELECT variant_id, quantity_available, quantity_reserved, low_stock_threshold, updated_at
		FROM inventory WHERE variant_id = $1`, variantID).
		Scan(&r.VariantID, &r.QuantityAvailable, &r.QuantityReserved, &r.LowStockThreshold, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func recordMovement(ctx context.Context, q postgres.DBTX, variantID string, kind MovementType, qty int, orderID string) error {
	var ref, refType any
	if orderID != "" {
		ref, refType = orderID, "order"
	}
	_, err := q.Exec(ctx, `
		INSERT INTO inventory_movements(variant_id, movement_type, quantity, reference_type, reference_id)
		VALUES ($1, $2, $3, $4, $5)`, variantID, string(kind), qty, refType, ref)
	return err
}
