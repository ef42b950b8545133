package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payment"
	"sync"
)

// Gateway is a payment.Gateway that signs with HMAC-SHA256 over the raw
// body, like the hosted one, and decodes payment.Event as plain JSON.
type Gateway struct {
	mu        sync.Mutex
	Secret    string
	CreateErr error
	Requests  []payment.SessionRequest
	sessions  map[string]payment.Session // by idempotency key
}

func NewGateway(secret string) *Gateway {
	return &Gateway{Secret: secret, sessions: map[string]payment.Session{}}
}

func (g *Gateway) CreateCheckoutSession(_ context.Context, req payment.SessionRequest) (payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, req)
	if g.CreateErr != nil {
		return payment.Session{}, g.CreateErr
	}
	if s, ok := g.sessions[req.IdempotencyKey]; ok {
		return s, nil
	}
	id := fmt.Sprintf("cs_test_%d", len(g.sessions)+1)
	s := payment.Session{ID: id, URL: "https://checkout.test/pay/" + id}
	g.sessions[req.IdempotencyKey] = s
	return s, nil
}

func (g *Gateway) RetrieveSession(_ context.Context, id string) (payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, s := range g.sessions {
		if s.ID == id {
			for _, r := range g.Requests {
				if r.IdempotencyKey == key {
					return payment.CheckoutSession{ID: id, OrderID: r.OrderID, PaymentStatus: payment.StatusPaid}, nil
				}
			}
		}
	}
	return payment.CheckoutSession{}, payment.ErrSessionNotFound
}

func (g *Gateway) ConstructEvent(payload []byte, signature string) (payment.Event, error) {
	if signature == "" || !hmac.Equal([]byte(signature), []byte(g.Sign(payload))) {
		return payment.Event{}, payment.ErrSignatureInvalid
	}
	var ev payment.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return payment.Event{}, err
	}
	return ev, nil
}

func (g *Gateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// CompletedEvent builds a signed "checkout completed" body. extra is merged
// into the session object, e.g. card details the handler must ignore.
func (g *Gateway) CompletedEvent(eventID, orderID, paymentStatus string, amount int64, extra map[string]any) ([]byte, string) {
	sess := map[string]any{
		"ID":              "cs_" + eventID,
		"PaymentStatus":   paymentStatus,
		"OrderID":         orderID,
		"AmountTotal":     amount,
		"Currency":        "usd",
		"PaymentIntentID": "pi_" + eventID,
		"CustomerID":      "cus_1",
	}
	for k, v := range extra {
		sess[k] = v
	}
	body, _ := json.Marshal(map[string]any{"ID": eventID, "Type": payment.EventCheckoutCompleted, "Session": sess})
	return body, g.Sign(body)
}

// Notifier records what would have been published.
type Notifier struct {
	mu   sync.Mutex
	Sent []orders.OrderPaidPayload
}

func (n *Notifier) OrderPaid(_ context.Context, p orders.OrderPaidPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, p)
}

func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Sent)
}

// Deduper is a set of processed event ids.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]bool
	Err  error
}

func (d *Deduper) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return false, d.Err
	}
	return d.seen[id], nil
}

func (d *Deduper) Mark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}
