package domain

import (
	"fmt"
	"time"
)

type DeliveryState string

const (
	StatePending          DeliveryState = "pending"
	StateDelivered        DeliveryState = "delivered"
	StateConfirmedByBuyer DeliveryState = "confirmed_by_buyer"
	StateAutoConfirmed    DeliveryState = "auto_confirmed"
)

func (s DeliveryState) Terminal() bool {
	return s == StateConfirmedByBuyer || s == StateAutoConfirmed
}

func (s DeliveryState) Valid() bool {
	switch s {
	case StatePending, StateDelivered, StateConfirmedByBuyer, StateAutoConfirmed:
		return true
	}
	return false
}

type Event string

const (
	EventMarkDelivered  Event = "mark_delivered"
	EventConfirmReceipt Event = "confirm_receipt"
	EventAutoConfirm    Event = "auto_confirm"
	EventOpenDispute    Event = "open_dispute"
)

// Delivery is the fulfillment record of an order. ConfirmedByBuyer and AutoConfirmed
// are mutually exclusive terminal markers.
type Delivery struct {
	Delivered        bool       `json:"delivered"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	ConfirmedByBuyer bool       `json:"confirmed_by_buyer"`
	AutoConfirmed    bool       `json:"auto_confirmed"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	DisputeOpened    bool       `json:"dispute_opened"`
}

func (d Delivery) State() DeliveryState {
	switch {
	case d.ConfirmedByBuyer:
		return StateConfirmedByBuyer
	case d.AutoConfirmed:
		return StateAutoConfirmed
	case d.Delivered:
		return StateDelivered
	default:
		return StatePending
	}
}

// AutoConfirmDue reports whether the auto-release deadline has passed for a delivered,
// unconfirmed and undisputed order.
func (d Delivery) AutoConfirmDue(now time.Time, window time.Duration) bool {
	if d.State() != StateDelivered || d.DisputeOpened || d.DeliveredAt == nil {
		return false
	}
	return !now.Before(d.DeliveredAt.Add(window))
}

// Deadline is when auto-confirmation becomes due. Zero if the order is not delivered.
func (d Delivery) Deadline(window time.Duration) time.Time {
	if d.DeliveredAt == nil {
		return time.Time{}
	}
	return d.DeliveredAt.Add(window)
}

// Apply returns the delivery record after ev, or an ErrInvalidState error when the
// transition is not permitted from the current state. The receiver is not modified.
func (d Delivery) Apply(ev Event, now time.Time, window time.Duration) (Delivery, error) {
	state := d.State()
	next := d
	switch ev {
	case EventMarkDelivered:
		if state != StatePending {
			return d, fmt.Errorf("%w: order already %s", ErrInvalidState, state)
		}
		next.Delivered = true
		next.DeliveredAt = &now

	case EventConfirmReceipt:
		if state != StateDelivered {
			return d, fmt.Errorf("%w: cannot confirm order in state %s", ErrInvalidState, state)
		}
		if d.DisputeOpened {
			return d, fmt.Errorf("%w: dispute opened", ErrInvalidState)
		}
		next.ConfirmedByBuyer = true
		next.ConfirmedAt = &now

	case EventAutoConfirm:
		if !d.AutoConfirmDue(now, window) {
			return d, fmt.Errorf("%w: auto-confirmation not due (state %s)", ErrInvalidState, state)
		}
		next.AutoConfirmed = true
		next.ConfirmedAt = &now

	case EventOpenDispute:
		if state.Terminal() {
			return d, fmt.Errorf("%w: order already %s", ErrInvalidState, state)
		}
		if d.DisputeOpened {
			return d, fmt.Errorf("%w: dispute already opened", ErrInvalidState)
		}
		next.DisputeOpened = true

	default:
		return d, fmt.Errorf("%w: unknown event %q", ErrInvalidState, ev)
	}
	return next, nil
}
