package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

const ProviderPayPal = "paypal"

const schemaPayPal = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["transactionId", "amount"],
  "properties": {
    "transactionId": { "type": "string", "minLength": 1 },
    "paymentId": { "type": "string" },
    "nickname": { "type": "string" },
    "payerEmail": { "type": "string" },
    "amount": { "type": ["number", "string"] },
    "currency": { "type": "string" },
    "game": { "type": "string" },
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "qty", "price"],
        "properties": {
          "name": { "type": "string" },
          "qty": { "type": "integer" },
          "price": { "type": ["number", "string"] }
        }
      }
    }
  }
}`

var paypalSchema = mustSchema(schemaPayPal)

type paypalItem struct {
	Name  string          `json:"name"`
	Qty   int             `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

type paypalCheckout struct {
	TransactionID string          `json:"transactionId"`
	PaymentID     string          `json:"paymentId"`
	Nickname      string          `json:"nickname"`
	PayerEmail    string          `json:"payerEmail"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Game          string          `json:"game"`
	Items         []paypalItem    `json:"items"`
}

// ParsePayPal normalizes the checkout payload posted by the storefront after a PayPal
// capture. Currency defaults to USD.
func ParsePayPal(body []byte) (domain.Payment, error) {
	if err := validateJSONSchema(paypalSchema, body); err != nil {
		return domain.Payment{}, err
	}

	var c paypalCheckout
	if err := json.Unmarshal(body, &c); err != nil {
		return domain.Payment{}, fmt.Errorf("%w: decode paypal payload: %v", domain.ErrValidation, err)
	}

	if c.Currency == "" {
		c.Currency = "USD"
	}
	items := make([]domain.LineItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, domain.LineItem{Name: it.Name, Quantity: it.Qty, UnitPrice: it.Price})
	}

	return domain.Payment{
		TransactionID: c.TransactionID,
		Buyer:         domain.Buyer{DisplayName: c.Nickname, Contact: c.PayerEmail},
		Amount:        c.Amount,
		Currency:      c.Currency,
		LineItems:     items,
		Category:      c.Game,
		Method:        domain.PaymentMethodPayPal,
	}, nil
}
