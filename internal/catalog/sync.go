package catalog

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/ariefcatur/go-storefront-checkout/internal/money"
)

// ErrGatewayObjectMissing is returned by a PriceGateway lookup when the
// remote product or price does not exist.
var ErrGatewayObjectMissing = errors.New("gateway object not found")

type PriceSpec struct {
	ProductID   string // gateway product id
	UnitAmount  int64  // minor units
	Currency    string
	Nickname    string
	VariantID   string
	SKU         string
	VariantName string
}

// PriceGateway is the slice of the payment gateway the sync needs.
type PriceGateway interface {
	ProductExists(ctx context.Context, id string) error
	CreateProduct(ctx context.Context, p Product) (string, error)
	PriceExists(ctx context.Context, id string) error
	CreatePrice(ctx context.Context, spec PriceSpec) (string, error)
}

type Source interface {
	ActiveProducts(ctx context.Context) ([]Product, error)
	SetStripeIDs(ctx context.Context, variantID, stripeProductID, stripePriceID string) error
}

type SyncError struct {
	ProductName string
	Err         error
}

type SyncResult struct {
	ProductsCreated int
	ProductsUpdated int
	PricesCreated   int
	PricesUpdated   int
	Errors          []SyncError
}

func (r SyncResult) OK() bool { return len(r.Errors) == 0 }

// Syncer maps one catalog product to one gateway product and one variant to
// one gateway price, then writes the gateway ids back to the variant.
type Syncer struct {
	Source   Source
	Gateway  PriceGateway
	Currency string
	Log      *logging.Logger
}

func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	products, err := s.Source.ActiveProducts(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch products: %w", err)
	}
	for _, p := range products {
		if err := s.syncProduct(ctx, p, &res); err != nil {
			s.Log.Error(logging.Fields{Step: "sync_product", Message: p.Name}, err)
			res.Errors = append(res.Errors, SyncError{ProductName: p.Name, Err: err})
		}
	}
	return res, nil
}

func (s *Syncer) syncProduct(ctx context.Context, p Product, res *SyncResult) error {
	var gatewayProductID string
	if len(p.Variants) > 0 && p.Variants[0].StripeProductID != nil {
		existing := *p.Variants[0].StripeProductID
		err := s.Gateway.ProductExists(ctx, existing)
		switch {
		case err == nil:
			gatewayProductID = existing
			res.ProductsUpdated++
		case !errors.Is(err, ErrGatewayObjectMissing):
			return err
		}
	}
	if gatewayProductID == "" {
		id, err := s.Gateway.CreateProduct(ctx, p)
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		gatewayProductID = id
		res.ProductsCreated++
	}

	for _, v := range p.Variants {
		if v.StripePriceID != nil {
			err := s.Gateway.PriceExists(ctx, *v.StripePriceID)
			if err == nil {
				res.PricesUpdated++
				continue
			}
			if !errors.Is(err, ErrGatewayObjectMissing) {
				return err
			}
		}
		priceID, err := s.Gateway.CreatePrice(ctx, PriceSpec{
			ProductID:   gatewayProductID,
			UnitAmount:  money.ToMinorUnits(v.Price),
			Currency:    s.currency(),
			Nickname:    p.Name + " - " + v.VariantName,
			VariantID:   v.ID,
			SKU:         v.SKU,
			VariantName: v.VariantName,
		})
		if err != nil {
			return fmt.Errorf("create price for %s: %w", v.SKU, err)
		}
		res.PricesCreated++
		if err := s.Source.SetStripeIDs(ctx, v.ID, gatewayProductID, priceID); err != nil {
			return fmt.Errorf("update variant %s: %w", v.ID, err)
		}
		s.Log.Info(logging.Fields{Step: "sync_price", VariantID: v.ID, Status: "created", Message: priceID})
	}
	return nil
}

func (s *Syncer) currency() string {
	if s.Currency == "" {
		return "usd"
	}
	return s.Currency
}
