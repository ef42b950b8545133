package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"time"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// ErrOtherEvent marks a well-formed envelope of a type the caller does not handle.
var ErrOtherEvent = errors.New("kafka: not an order.paid event")

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// EncodeOrderPaid wraps p in a v1 envelope keyed by order id.
func EncodeOrderPaid(producer string, p orders.OrderPaidPayload, at time.Time) kafka.Message {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderPaid,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: p.OrderID,
		Payload:       MustMarshal(p),
	}
	return kafka.Message{
		Key:   orders.PartitionKey(p.OrderID),
		Value: MustMarshal(ev),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(orders.EventOrderPaid)},
			{Key: HeaderEventVersion, Value: []byte("1")},
		},
	}
}

// DecodeOrderPaid returns ErrOtherEvent for envelopes of any other type.
func DecodeOrderPaid(m kafka.Message) (orders.Envelope, orders.OrderPaidPayload, error) {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, orders.OrderPaidPayload{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != orders.EventOrderPaid {
		return env, orders.OrderPaidPayload{}, ErrOtherEvent
	}
	p, err := UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	return env, p, err
}

// UnwrapPayload decodes an envelope payload into its concrete type.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
