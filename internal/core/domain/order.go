package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodCrypto PaymentMethod = "crypto"
)

// RequiresLineItems reports whether payments on this rail must carry an item breakdown.
// Crypto invoices only carry a total.
func (m PaymentMethod) RequiresLineItems() bool {
	return m == PaymentMethodPayPal
}

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodPayPal || m == PaymentMethodCrypto
}

// CategoryUnknown is assigned to orders whose category tag is not in the configured set.
const CategoryUnknown = "unknown"

type Buyer struct {
	DisplayName string `json:"display_name"`
	Contact     string `json:"contact"`
}

type LineItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal is quantity × unit price rounded to cents.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity))).Round(2)
}

type Order struct {
	ID            string
	TransactionID string
	Buyer         Buyer
	Amount        decimal.Decimal
	Currency      string
	LineItems     []LineItem
	Category      string
	PaymentMethod PaymentMethod
	Delivery      Delivery
	ReviewLeft    bool
	ReviewerName  string
	Version       int // optimistic locking
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemsTotal sums the line item subtotals.
func (o Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		total = total.Add(li.Subtotal())
	}
	return total
}

// State is shorthand for o.Delivery.State().
func (o Order) State() DeliveryState {
	return o.Delivery.State()
}

// Payment is a provider webhook normalized into the shape recordPayment accepts.
type Payment struct {
	TransactionID string
	Buyer         Buyer
	Amount        decimal.Decimal
	Currency      string
	LineItems     []LineItem
	Category      string
	Method        PaymentMethod
}

// OrderFilter narrows admin listings. Zero value lists everything.
type OrderFilter struct {
	State DeliveryState
	Limit int
}
