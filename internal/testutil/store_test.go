package testutil

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

func TestReserveLastUnitRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := NewStore()
		s.AddVariant("v1", "Mug", "12.00", 1, "price_1")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				errs[g] = s.Reserve(context.Background(), inventory.Reservation{
					VariantID: "v1", OrderID: []string{"o1", "o2"}[g], Quantity: 1, ExpiresAt: time.Now().Add(time.Minute),
				})
			}(g)
		}
		wg.Wait()

		ok, insufficient := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, inventory.ErrInsufficientInventory):
				insufficient++
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, insufficient)
		avail, reserved := s.Stock("v1")
		assert.Equal(t, 0, avail)
		assert.Equal(t, 1, reserved)
	}
}

func TestInTxRollsBack(t *testing.T) {
	s := NewStore()
	s.AddVariant("v1", "Mug", "12.00", 5, "price_1")

	err := s.InTx(context.Background(), func(tx orders.Tx) error {
		require.NoError(t, tx.InsertOrder(context.Background(), &orders.Order{ID: "o1", Status: orders.StatusDraft}))
		require.NoError(t, tx.Reserve(context.Background(), inventory.Reservation{VariantID: "v1", OrderID: "o1", Quantity: 2}))
		return errors.New("boom")
	})
	require.Error(t, err)

	assert.Empty(t, s.Orders())
	assert.Empty(t, s.Reservations())
	avail, reserved := s.Stock("v1")
	assert.Equal(t, 5, avail)
	assert.Equal(t, 0, reserved)
}

func TestFulfillIsIdempotentPerVariant(t *testing.T) {
	s := NewStore()
	s.AddVariant("v1", "Mug", "12.00", 5, "price_1")
	require.NoError(t, s.Hold("o1", "v1", 2, time.Now().Add(time.Hour)))

	ctx := context.Background()
	require.NoError(t, s.Fulfill(ctx, "o1", "v1", 2))
	require.NoError(t, s.Fulfill(ctx, "o1", "v1", 2))

	avail, reserved := s.Stock("v1")
	assert.Equal(t, 3, avail)
	assert.Equal(t, 0, reserved)
	assert.Equal(t, 2, s.Sold("v1"))
}

func TestFulfillAfterExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("reclaims stock still on hand", func(t *testing.T) {
		s := NewStore()
		s.AddVariant("v1", "Mug", "12.00", 3, "price_1")
		s.PutOrder(orders.Order{ID: "o1", Status: orders.StatusDraft})
		require.NoError(t, s.Hold("o1", "v1", 1, now.Add(-time.Minute)))

		released, err := s.ReleaseExpired(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, released, 1)

		require.NoError(t, s.Fulfill(ctx, "o1", "v1", 1))
		avail, reserved := s.Stock("v1")
		assert.Equal(t, 2, avail)
		assert.Equal(t, 0, reserved)
	})

	t.Run("reports oversold when the stock is gone", func(t *testing.T) {
		s := NewStore()
		s.AddVariant("v1", "Mug", "12.00", 1, "price_1")
		s.PutOrder(orders.Order{ID: "o1", Status: orders.StatusDraft})
		require.NoError(t, s.Hold("o1", "v1", 1, now.Add(-time.Minute)))
		_, err := s.ReleaseExpired(ctx, now, 10)
		require.NoError(t, err)
		require.NoError(t, s.Hold("o2", "v1", 1, now.Add(time.Hour)))

		assert.ErrorIs(t, s.Fulfill(ctx, "o1", "v1", 1), inventory.ErrOversold)
	})
}
