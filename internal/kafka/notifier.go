package kafka

import (
	"context"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/segmentio/kafka-go"
	"time"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header) bool
}

// OrderPaidNotifier hands paid orders to the confirmation consumer.
type OrderPaidNotifier struct {
	Producer Publisher
	Service  string
	Log      *logging.Logger
}

func (n *OrderPaidNotifier) OrderPaid(ctx context.Context, p orders.OrderPaidPayload) {
	m := EncodeOrderPaid(n.Service, p, time.Now())
	if !n.Producer.Publish(m.Key, m.Value, m.Headers...) {
		n.Log.Error(logging.Fields{Step: "notify_order_paid", OrderID: p.OrderID, Status: "dropped"}, nil)
	}
}
