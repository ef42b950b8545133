package inventory_test

import (
	"context"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestSweeperReleasesExpiredHolds(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := testutil.NewStore()
	store.AddVariant("v1", "Mug", "12.00", 10, "price_1")
	store.PutOrder(orders.Order{ID: "stale", Status: orders.StatusDraft})
	store.PutOrder(orders.Order{ID: "fresh", Status: orders.StatusDraft})
	store.PutOrder(orders.Order{ID: "paid", Status: orders.StatusPaid})
	require.NoError(t, store.Hold("stale", "v1", 2, now.Add(-time.Minute)))
	require.NoError(t, store.Hold("fresh", "v1", 3, now.Add(time.Minute)))
	require.NoError(t, store.Hold("paid", "v1", 1, now.Add(-time.Minute)))

	sw := &inventory.Sweeper{Ledger: store, Orders: store, Batch: 1, Now: func() time.Time { return now }}
	sum, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, inventory.SweepSummary{Released: 1, Cancelled: 1}, sum)

	avail, reserved := store.Stock("v1")
	assert.Equal(t, 6, avail)
	assert.Equal(t, 4, reserved)

	byID := map[string]orders.Order{}
	for _, o := range store.Orders() {
		byID[o.ID] = o
	}
	assert.Equal(t, orders.StatusCancelled, byID["stale"].Status)
	assert.Equal(t, orders.StatusDraft, byID["fresh"].Status)
	assert.Equal(t, orders.StatusPaid, byID["paid"].Status)

	// nothing left to do
	sum, err = sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Released)
}

func TestSweeperDrainsInBatches(t *testing.T) {
	now := time.Now()
	store := testutil.NewStore()
	store.AddVariant("v1", "Mug", "12.00", 10, "price_1")
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		store.PutOrder(orders.Order{ID: id, Status: orders.StatusDraft})
		require.NoError(t, store.Hold(id, "v1", 1, now.Add(-time.Second)))
	}

	sw := &inventory.Sweeper{Ledger: store, Orders: store, Batch: 2, Now: func() time.Time { return now }}
	sum, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Released)
	assert.Equal(t, 5, sum.Cancelled)
	assert.Equal(t, 3, store.Calls("ReleaseExpired"))
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	store := testutil.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- (&inventory.Sweeper{Ledger: store, Interval: 10 * time.Millisecond}).Run(ctx)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.GreaterOrEqual(t, store.Calls("ReleaseExpired"), 1)
}
