package inventory

import (
	"context"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/ariefcatur/go-storefront-checkout/internal/metrics"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"time"
)

// ReleaseExpired releases up to limit holds whose expiry has passed. Rows
// locked by an in-flight Fulfill are skipped and picked up next round, and
// holds of orders that are already paid are left for the webhook.
func (l *Ledger) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	var out []Reservation
	err := postgres.InTx(ctx, l.DB, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE inventory_reservations r
			SET released_at = $1
			WHERE r.id IN (
				SELECT ir.id FROM inventory_reservations ir
				JOIN orders o ON o.id = ir.order_id
				WHERE ir.expires_at <= $1
				  AND ir.released_at IS NULL
				  AND ir.fulfilled_at IS NULL
				  AND o.status NOT IN ('paid', 'processing')
				ORDER BY ir.expires_at
				LIMIT $2
				FOR UPDATE OF ir SKIP LOCKED)
			RETURNING r.id, r.variant_id, r.order_id, r.quantity, r.expires_at, r.released_at`, now, limit)
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

type Expirer interface {
	ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
}

type DraftCanceller interface {
	CancelExpiredDrafts(ctx context.Context, orderIDs []string, at time.Time) (int, error)
}

type SweepSummary struct {
	Released  int
	Cancelled int
}

// Sweeper is the time-driven process that hands abandoned holds back to
// available stock.
type Sweeper struct {
	Ledger   Expirer
	Orders   DraftCanceller
	Batch    int
	Interval time.Duration
	Timeout  time.Duration
	Now      func() time.Time
	Log      *logging.Logger
	Metrics  *metrics.Metrics
}

// RunOnce drains every expired hold in batches.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepSummary, error) {
	var sum SweepSummary
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}
	for {
		released, err := s.releaseBatch(ctx, batch)
		if err != nil {
			return sum, err
		}
		sum.Released += len(released)
		s.Metrics.Expired(len(released))

		if len(released) > 0 && s.Orders != nil {
			n, err := s.Orders.CancelExpiredDrafts(ctx, orderIDs(released), s.now())
			if err != nil {
				s.Log.Error(logging.Fields{Step: "cancel_expired_drafts"}, err)
			}
			sum.Cancelled += n
		}
		for _, r := range released {
			s.Log.Info(logging.Fields{Step: "release_expired", Status: "released", OrderID: r.OrderID, VariantID: r.VariantID})
		}
		if len(released) < batch {
			return sum, nil
		}
	}
}

func (s *Sweeper) releaseBatch(ctx context.Context, batch int) ([]Reservation, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return s.Ledger.ReleaseExpired(ctx, s.now(), batch)
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.Log.Error(logging.Fields{Step: "sweep"}, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func orderIDs(rs []Reservation) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rs {
		if !seen[r.OrderID] {
			seen[r.OrderID] = true
			out = append(out, r.OrderID)
		}
	}
	return out
}
