package orders

type Status string

const (
	StatusDraft            Status = "draft"
	StatusAwaitingPayment  Status = "awaiting_payment"
	StatusPaid             Status = "paid"
	StatusProcessing       Status = "processing"
	StatusReadyForDelivery Status = "ready_for_delivery"
	StatusOutForDelivery   Status = "out_for_delivery"
	StatusDelivered        Status = "delivered"
	StatusCancelled        Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Only the webhook moves an order to paid. A cancelled draft can still be
// paid when the gateway charged after the hold expired.
var validNext = map[Status]map[Status]bool{
	StatusDraft:            {StatusAwaitingPayment: true, StatusPaid: true, StatusCancelled: true},
	StatusAwaitingPayment:  {StatusPaid: true, StatusCancelled: true},
	StatusCancelled:        {StatusPaid: true},
	StatusPaid:             {StatusProcessing: true},
	StatusProcessing:       {StatusReadyForDelivery: true},
	StatusReadyForDelivery: {StatusOutForDelivery: true},
	StatusOutForDelivery:   {StatusDelivered: true},
	StatusDelivered:        {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Settled reports whether payment for the order has been recorded.
func (s Status) Settled() bool {
	switch s {
	case StatusPaid, StatusProcessing, StatusReadyForDelivery, StatusOutForDelivery, StatusDelivered:
		return true
	}
	return false
}

// PayableFrom lists the statuses MarkPaid may move from.
func PayableFrom() []Status {
	var out []Status
	for from, next := range validNext {
		if next[StatusPaid] {
			out = append(out, from)
		}
	}
	return out
}
