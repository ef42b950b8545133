package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Stripe struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(secretKey, webhookSecret string) *Stripe {
	return &Stripe{api: client.New(secretKey, nil), webhookSecret: webhookSecret}
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error) {
	cs, err := s.api.CheckoutSessions.New(sessionParams(ctx, req))
	if err != nil {
		return Session{}, err
	}
	if cs.URL == "" {
		return Session{}, errors.New("no session URL returned from gateway")
	}
	return Session{ID: cs.ID, URL: cs.URL}, nil
}

func sessionParams(ctx context.Context, req SessionRequest) *stripe.CheckoutSessionParams {
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(li.PriceID),
			Quantity: stripe.Int64(li.Quantity),
		})
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         items,
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{MetadataOrderID: req.OrderID},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.ExpiresAt > 0 {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt)
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, req.OrderID)
	params.SetIdempotencyKey(req.IdempotencyKey)
	return params
}

func (s *Stripe) RetrieveSession(ctx context.Context, id string) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return CheckoutSession{}, ErrSessionNotFound
		}
		return CheckoutSession{}, err
	}
	return fromStripeSession(cs), nil
}

func (s *Stripe) ConstructEvent(payload []byte, signature string) (Event, error) {
	if signature == "" {
		return Event{}, fmt.Errorf("%w: missing signature", ErrSignatureInvalid)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{Tolerance: webhook.DefaultTolerance, IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != EventCheckoutCompleted || ev.Data == nil {
		return out, nil
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
		return out, fmt.Errorf("decode checkout session: %w", err)
	}
	sess := fromStripeSession(&cs)
	out.Session = &sess
	return out, nil
}

func fromStripeSession(cs *stripe.CheckoutSession) CheckoutSession {
	out := CheckoutSession{
		ID:            cs.ID,
		PaymentStatus: string(cs.PaymentStatus),
		OrderID:       cs.Metadata[MetadataOrderID],
		AmountTotal:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		CustomerEmail: cs.CustomerEmail,
	}
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
		if out.OrderID == "" {
			out.OrderID = cs.PaymentIntent.Metadata[MetadataOrderID]
		}
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if out.CustomerEmail == "" && cs.CustomerDetails != nil {
		out.CustomerEmail = cs.CustomerDetails.Email
	}
	return out
}

// Catalog sync.

func (s *Stripe) ProductExists(ctx context.Context, id string) error {
	params := &stripe.ProductParams{}
	params.Context = ctx
	_, err := s.api.Products.Get(id, params)
	return mapMissing(err)
}

func (s *Stripe) CreateProduct(ctx context.Context, p catalog.Product) (string, error) {
	desc := p.ShortDescription
	if desc == "" {
		desc = p.Description
	}
	params := &stripe.ProductParams{
		Name:   stripe.String(p.Name),
		Active: stripe.Bool(p.IsActive),
	}
	if desc != "" {
		params.Description = stripe.String(desc)
	}
	if p.ImageURL != "" {
		params.Images = stripe.StringSlice([]string{p.ImageURL})
	}
	params.Context = ctx
	params.AddMetadata("database_product_id", p.ID)
	prod, err := s.api.Products.New(params)
	if err != nil {
		return "", err
	}
	return prod.ID, nil
}

func (s *Stripe) PriceExists(ctx context.Context, id string) error {
	params := &stripe.PriceParams{}
	params.Context = ctx
	_, err := s.api.Prices.Get(id, params)
	return mapMissing(err)
}

func (s *Stripe) CreatePrice(ctx context.Context, spec catalog.PriceSpec) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(spec.ProductID),
		UnitAmount: stripe.Int64(spec.UnitAmount),
		Currency:   stripe.String(spec.Currency),
		Nickname:   stripe.String(spec.Nickname),
	}
	params.Context = ctx
	params.AddMetadata("database_variant_id", spec.VariantID)
	params.AddMetadata("sku", spec.SKU)
	params.AddMetadata("variant_name", spec.VariantName)
	price, err := s.api.Prices.New(params)
	if err != nil {
		return "", err
	}
	return price.ID, nil
}

func mapMissing(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == 404 {
		return catalog.ErrGatewayObjectMissing
	}
	return err
}
