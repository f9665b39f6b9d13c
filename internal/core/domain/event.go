package domain

import "time"

type EventType string

const (
	EventTypePaymentRecorded EventType = "order.payment_recorded"
	EventTypeDelivered       EventType = "order.delivered"
	EventTypeConfirmed       EventType = "order.confirmed"
	EventTypeAutoConfirmed   EventType = "order.auto_confirmed"
	EventTypeDisputeOpened   EventType = "order.dispute_opened"
	EventTypeReviewAttached  EventType = "order.review_attached"
)

// OrderEvent is published after a transition has been persisted.
type OrderEvent struct {
	Type          EventType     `json:"event_type"`
	TransactionID string        `json:"transaction_id"`
	State         DeliveryState `json:"state"`
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

func NewOrderEvent(t EventType, o Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          t,
		TransactionID: o.TransactionID,
		State:         o.State(),
		Amount:        o.Amount.StringFixed(2),
		Currency:      o.Currency,
		OccurredAt:    at,
	}
}

type Audience string

const (
	AudienceAdmin Audience = "admin"
	AudienceBuyer Audience = "buyer"
)
