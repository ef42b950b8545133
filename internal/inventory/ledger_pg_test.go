package inventory_test

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"sync"
	"testing"
	"time"
)

// These run against a scratch database: STOREFRONT_TEST_DATABASE_URL.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("STOREFRONT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STOREFRONT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

func seedVariant(t *testing.T, pool *pgxpool.Pool, available int) string {
	t.Helper()
	ctx := context.Background()
	var productID, variantID string
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO products(name, slug) VALUES ('Mug', $1) RETURNING id`, "mug-"+uuid.NewString()).Scan(&productID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO product_variants(product_id, sku, variant_name, price) VALUES ($1, $2, 'Default', 12.00) RETURNING id`,
		productID, "SKU-"+uuid.NewString()).Scan(&variantID))
	_, err := pool.Exec(ctx, `INSERT INTO inventory(variant_id, quantity_available) VALUES ($1, $2)`, variantID, available)
	require.NoError(t, err)
	return variantID
}

func seedOrder(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO orders(id, order_number, subtotal, tax_amount, delivery_fee, total,
			delivery_street_address_1, delivery_city, delivery_state, delivery_zip_code, delivery_country,
			customer_email, customer_first_name, customer_last_name)
		VALUES ($1, 'ORD-TEST', 12, 1.02, 5.99, 19.01, '1 Main St', 'Oakland', 'CA', '94607', 'US', 'a@b.co', 'A', 'B')`, id)
	require.NoError(t, err)
	return id
}

func TestLedgerReserveRacePostgres(t *testing.T) {
	pool := testPool(t)
	ledger := &inventory.Ledger{DB: pool}
	variantID := seedVariant(t, pool, 1)
	orderA, orderB := seedOrder(t, pool), seedOrder(t, pool)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, orderID := range []string{orderA, orderB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = ledger.Reserve(context.Background(), pool, inventory.Reservation{
				VariantID: variantID, OrderID: orderID, Quantity: 1, ExpiresAt: time.Now().Add(time.Hour),
			})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.True(t, errors.Is(err, inventory.ErrInsufficientInventory), err)
		}
	}
	assert.Equal(t, 1, ok)

	rec, err := ledger.Get(context.Background(), variantID)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.QuantityAvailable)
	assert.Equal(t, 1, rec.QuantityReserved)
}

func TestLedgerFulfillPostgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	ledger := &inventory.Ledger{DB: pool}
	variantID := seedVariant(t, pool, 3)
	orderID := seedOrder(t, pool)

	require.NoError(t, ledger.Reserve(ctx, pool, inventory.Reservation{
		VariantID: variantID, OrderID: orderID, Quantity: 2, ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, ledger.Fulfill(ctx, orderID, variantID, 2))
	require.NoError(t, ledger.Fulfill(ctx, orderID, variantID, 2))

	rec, err := ledger.Get(ctx, variantID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.QuantityAvailable)
	assert.Equal(t, 0, rec.QuantityReserved)

	require.NoError(t, ledger.DeleteReservations(ctx, orderID))
	assert.ErrorIs(t, ledger.Fulfill(ctx, orderID, variantID, 2), inventory.ErrNotFound)
}

func TestLedgerExpiryThenFulfillPostgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	ledger := &inventory.Ledger{DB: pool}
	variantID := seedVariant(t, pool, 1)
	orderID := seedOrder(t, pool)

	require.NoError(t, ledger.Reserve(ctx, pool, inventory.Reservation{
		VariantID: variantID, OrderID: orderID, Quantity: 1, ExpiresAt: time.Now().Add(-time.Minute)}))

	released, err := ledger.ReleaseExpired(ctx, time.Now(), 100)
	require.NoError(t, err)
	var mine int
	for _, r := range released {
		if r.OrderID == orderID {
			mine++
		}
	}
	assert.Equal(t, 1, mine)

	other := seedOrder(t, pool)
	require.NoError(t, ledger.Reserve(ctx, pool, inventory.Reservation{
		VariantID: variantID, OrderID: other, Quantity: 1, ExpiresAt: time.Now().Add(time.Hour)}))

	assert.ErrorIs(t, ledger.Fulfill(ctx, orderID, variantID, 1), inventory.ErrOversold)
}

func TestLedgerReleaseOrderPostgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	ledger := &inventory.Ledger{DB: pool}
	variantID := seedVariant(t, pool, 4)
	orderID := seedOrder(t, pool)

	require.NoError(t, ledger.Reserve(ctx, pool, inventory.Reservation{
		VariantID: variantID, OrderID: orderID, Quantity: 2, ExpiresAt: time.Now().Add(-time.Minute)}))

	released, err := ledger.ReleaseOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.NotNil(t, released[0].ReleasedAt)

	again, err := ledger.ReleaseOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, again)

	swept, err := ledger.ReleaseExpired(ctx, time.Now(), 100)
	require.NoError(t, err)
	for _, r := range swept {
		assert.NotEqual(t, orderID, r.OrderID)
	}

	rec, err := ledger.Get(ctx, variantID)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.QuantityAvailable)
	assert.Equal(t, 0, rec.QuantityReserved)
}
