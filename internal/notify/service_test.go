package notify

import (
	"context"
	"errors"
	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type memClaimer struct{ keys map[string]bool }

func (m *memClaimer) Claim(_ context.Context, id string) (bool, error) {
	if m.keys[id] {
		return false, nil
	}
	m.keys[id] = true
	return true, nil
}

func (m *memClaimer) Forget(_ context.Context, id string) error {
	delete(m.keys, id)
	return nil
}

type countingSender struct {
	sent []string
	err  error
}

func (c *countingSender) SendOrderConfirmation(_ context.Context, p orders.OrderPaidPayload) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, p.OrderID)
	return nil
}

func message(eventID, eventType, orderID string) kafkago.Message {
	env := orders.Envelope{
		EventID:   eventID,
		EventType: eventType,
		Payload:   kafkax.MustMarshal(orders.OrderPaidPayload{OrderID: orderID, CustomerEmail: "ada@example.com"}),
	}
	return kafkago.Message{Key: []byte(orderID), Value: kafkax.MustMarshal(env)}
}

func TestHandleOrderPaidSendsOncePerOrder(t *testing.T) {
	sender := &countingSender{}
	s := &Service{Dedup: &memClaimer{keys: map[string]bool{}}, Sender: sender}
	ctx := context.Background()

	require.NoError(t, s.HandleOrderPaid(ctx, message("e1", orders.EventOrderPaid, "o1")))
	require.NoError(t, s.HandleOrderPaid(ctx, message("e2", orders.EventOrderPaid, "o1")))
	require.NoError(t, s.HandleOrderPaid(ctx, message("e3", orders.EventOrderPaid, "o2")))

	assert.Equal(t, []string{"o1", "o2"}, sender.sent)
}

func TestHandleOrderPaidRetriesAfterSendFailure(t *testing.T) {
	sender := &countingSender{err: errors.New("smtp down")}
	s := &Service{Dedup: &memClaimer{keys: map[string]bool{}}, Sender: sender}
	ctx := context.Background()

	assert.Error(t, s.HandleOrderPaid(ctx, message("e1", orders.EventOrderPaid, "o1")))

	sender.err = nil
	require.NoError(t, s.HandleOrderPaid(ctx, message("e1", orders.EventOrderPaid, "o1")))
	assert.Equal(t, []string{"o1"}, sender.sent)
}

func TestHandleOrderPaidSkipsOtherAndBrokenMessages(t *testing.T) {
	sender := &countingSender{}
	s := &Service{Dedup: &memClaimer{keys: map[string]bool{}}, Sender: sender}
	ctx := context.Background()

	assert.NoError(t, s.HandleOrderPaid(ctx, message("e1", "OrderCancelled", "o1")))
	assert.NoError(t, s.HandleOrderPaid(ctx, kafkago.Message{Value: []byte("{not json")}))
	assert.Empty(t, sender.sent)
}
