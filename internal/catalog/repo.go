// Package catalog reads products and variants. The checkout reads through
// the restricted pool so row-level security still applies.
package catalog

import (
	"context"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"time"
)

type Variant struct {
	ID              string
	ProductID       string
	ProductName     string
	SKU             string
	VariantName     string
	Price           decimal.Decimal
	IsActive        bool
	StripePriceID   *string
	StripeProductID *string
}

type Product struct {
	ID               string
	Name             string
	Description      string
	ShortDescription string
	ImageURL         string
	IsActive         bool
	Variants         []Variant
}

type Repo struct{ DB *pgxpool.Pool }

// Variants returns the authoritative variant rows keyed by id. Ids that do
// not exist (or are hidden by RLS) are simply absent.
func (r *Repo) Variants(ctx context.Context, ids []string) (map[string]Variant, error) {
	out := make(map[string]Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT v.id, v.product_id, p.name, v.sku, v.variant_name, v.price, v.is_active,
		       NULLIF(v.stripe_price_id, ''), NULLIF(v.stripe_product_id, '')
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id IN (`+postgres.Placeholders(len(ids), 1)+`)`, postgres.Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.SKU, &v.VariantName, &v.Price, &v.IsActive,
			&v.StripePriceID, &v.StripeProductID); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

func (r *Repo) Availability(ctx context.Context, ids []string) (map[string]int, error) {
	return inventory.Available(ctx, r.DB, ids)
}

// ActiveProducts lists active products with their active variants, in
// display order.
func (r *Repo) ActiveProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT p.id, p.name, COALESCE(p.description, ''), COALESCE(p.short_description, ''), COALESCE(p.image_url, ''), p.is_active,
		       v.id, v.sku, v.variant_name, v.price, v.is_active, NULLIF(v.stripe_price_id, ''), NULLIF(v.stripe_product_id, '')
		FROM products p
		JOIN product_variants v ON v.product_id = p.id AND v.is_active
		WHERE p.is_active
		ORDER BY p.display_order, p.id, v.display_order, v.sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		var v Variant
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.ShortDescription, &p.ImageURL, &p.IsActive,
			&v.ID, &v.SKU, &v.VariantName, &v.Price, &v.IsActive, &v.StripePriceID, &v.StripeProductID); err != nil {
			return nil, err
		}
		v.ProductID, v.ProductName = p.ID, p.Name
		if n := len(out); n > 0 && out[n-1].ID == p.ID {
			out[n-1].Variants = append(out[n-1].Variants, v)
			continue
		}
		p.Variants = []Variant{v}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStripeIDs needs the service-role pool.
func (r *Repo) SetStripeIDs(ctx context.Context, variantID, stripeProductID, stripePriceID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE product_variants
		SET stripe_product_id = $2, stripe_price_id = $3, updated_at = $4
		WHERE id = $1`, variantID, stripeProductID, stripePriceID, time.Now().UTC())
	return err
}
