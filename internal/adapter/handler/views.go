package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/escrow-relay/internal/adapter/handler/rpc"
	"github.com/rl1809/escrow-relay/internal/core/domain"
)

type itemView struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

// buyerView omits the contact on buyer-facing routes.
type buyerView struct {
	DisplayName string `json:"display_name"`
	Contact     string `json:"contact,omitempty"`
}

type orderView struct {
	TransactionID string     `json:"transaction_id"`
	State         string     `json:"state"`
	Buyer         buyerView  `json:"buyer"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Items         []itemView `json:"items"`
	Category      string     `json:"category"`
	PaymentMethod string     `json:"payment_method"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	AutoConfirmAt *time.Time `json:"auto_confirm_at,omitempty"`
	DisputeOpened bool       `json:"dispute_opened"`
	ReviewLeft    bool       `json:"review_left"`
	CreatedAt     time.Time  `json:"created_at"`
	BuyerToken    string     `json:"buyer_token,omitempty"`
}

// pendingDeadline is set only while auto-confirmation can still fire.
func pendingDeadline(o domain.Order, window time.Duration) *time.Time {
	if o.State() != domain.StateDelivered || o.Delivery.DisputeOpened {
		return nil
	}
	d := o.Delivery.Deadline(window)
	if d.IsZero() {
		return nil
	}
	return &d
}

func newOrderView(o domain.Order, window time.Duration) orderView {
	items := make([]itemView, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, itemView{
			Name:      li.Name,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice.StringFixed(2),
			Subtotal:  li.Subtotal().StringFixed(2),
		})
	}
	return orderView{
		TransactionID: o.TransactionID,
		State:         string(o.State()),
		Buyer:         buyerView{DisplayName: o.Buyer.DisplayName, Contact: o.Buyer.Contact},
		Amount:        o.Amount.StringFixed(2),
		Currency:      o.Currency,
		Items:         items,
		Category:      o.Category,
		PaymentMethod: string(o.PaymentMethod),
		DeliveredAt:   o.Delivery.DeliveredAt,
		ConfirmedAt:   o.Delivery.ConfirmedAt,
		AutoConfirmAt: pendingDeadline(o, window),
		DisputeOpened: o.Delivery.DisputeOpened,
		ReviewLeft:    o.ReviewLeft,
		CreatedAt:     o.CreatedAt,
	}
}

// newPublicOrderView is the view served without admin credentials.
func newPublicOrderView(o domain.Order, window time.Duration) orderView {
	v := newOrderView(o, window)
	v.Buyer.Contact = ""
	return v
}

type orderTotals struct {
	Count     int               `json:"count"`
	Revenue   map[string]string `json:"revenue"`
	Pending   int               `json:"pending"`
	Delivered int               `json:"delivered"`
	Confirmed int               `json:"confirmed"`
}

// totalsOf sums revenue per currency; amounts in different currencies are never added.
func totalsOf(orders []domain.Order) orderTotals {
	revenue := make(map[string]decimal.Decimal)
	t := orderTotals{Count: len(orders), Revenue: make(map[string]string)}
	for _, o := range orders {
		revenue[o.Currency] = revenue[o.Currency].Add(o.Amount)
		switch o.State() {
		case domain.StatePending:
			t.Pending++
		case domain.StateDelivered:
			t.Delivered++
		default:
			t.Confirmed++
		}
	}
	for cur, sum := range revenue {
		t.Revenue[cur] = sum.StringFixed(2)
	}
	return t
}

type reviewView struct {
	ReviewerName string    `json:"nickname"`
	Text         string    `json:"review"`
	CreatedAt    time.Time `json:"date"`
}

func newReviewViews(reviews []domain.Review) []reviewView {
	out := make([]reviewView, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, reviewView{ReviewerName: r.ReviewerName, Text: r.Text, CreatedAt: r.CreatedAt})
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func newRPCOrder(o domain.Order, window time.Duration) *rpc.Order {
	items := make([]rpc.LineItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, rpc.LineItem{Name: li.Name, Quantity: li.Quantity, UnitPrice: li.UnitPrice.StringFixed(2)})
	}
	return &rpc.Order{
		TransactionID: o.TransactionID,
		State:         string(o.State()),
		BuyerName:     o.Buyer.DisplayName,
		Amount:        o.Amount.StringFixed(2),
		Currency:      o.Currency,
		Items:         items,
		Category:      o.Category,
		Method:        string(o.PaymentMethod),
		DeliveredAt:   formatTime(o.Delivery.DeliveredAt),
		ConfirmedAt:   formatTime(o.Delivery.ConfirmedAt),
		AutoConfirmAt: formatTime(pendingDeadline(o, window)),
		DisputeOpened: o.Delivery.DisputeOpened,
		ReviewLeft:    o.ReviewLeft,
	}
}
