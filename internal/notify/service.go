// Package notify consumes order.paid and sends the order confirmation once
// per order.
package notify

import (
	"context"
	"errors"
	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Sender interface {
	SendOrderConfirmation(ctx context.Context, p orders.OrderPaidPayload) error
}

type Service struct {
	Dedup  Claimer
	Sender Sender
	Log    *logging.Logger
}

// HandleOrderPaid is installed as the consumer handler.
func (s *Service) HandleOrderPaid(ctx context.Context, m kafkago.Message) error {
	env, p, err := kafkax.DecodeOrderPaid(m)
	if errors.Is(err, kafkax.ErrOtherEvent) {
		return nil
	}
	if err != nil {
		// poison message; committing it is the only way past it
		s.Log.Error(logging.Fields{Step: "decode_order_paid", EventID: env.EventID}, err)
		return nil
	}

	// one confirmation per order, however many times the webhook fired
	key := p.OrderID + ":confirmation"
	first, err := s.Dedup.Claim(ctx, key)
	if err != nil {
		return err
	}
	if !first {
		s.Log.Info(logging.Fields{Step: "send_confirmation", OrderID: p.OrderID, EventID: env.EventID, Status: "duplicate"})
		return nil
	}

	if err := s.Sender.SendOrderConfirmation(ctx, p); err != nil {
		_ = s.Dedup.Forget(ctx, key)
		return err
	}
	s.Log.Info(logging.Fields{Step: "send_confirmation", OrderID: p.OrderID, EventID: env.EventID, Status: "sent"})
	return nil
}

// LogSender records the confirmation instead of delivering it; message
// content and transport live outside this service.
type LogSender struct {
	Log *logging.Logger
}

func (l LogSender) SendOrderConfirmation(_ context.Context, p orders.OrderPaidPayload) error {
	l.Log.Info(logging.Fields{Step: "order_confirmation", OrderID: p.OrderID, SessionID: p.SessionID, Message: "confirmation queued for " + p.CustomerEmail})
	return nil
}
