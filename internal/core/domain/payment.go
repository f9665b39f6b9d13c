package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/unicode/norm"
)

// MoneyPlaces is the precision amounts are stored and compared at.
const MoneyPlaces = 2

// NormalizeName trims a display name and folds it to NFC so that the same nickname typed
// on different keyboards compares equal.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Normalize canonicalizes free-text fields and rounds money to MoneyPlaces, so Validate and
// redelivery comparison see the value that gets stored. Category is matched
// case-insensitively against known and replaced with CategoryUnknown when absent from it.
func (p Payment) Normalize(known []string) Payment {
	p.TransactionID = strings.TrimSpace(p.TransactionID)
	p.Buyer.DisplayName = NormalizeName(p.Buyer.DisplayName)
	p.Buyer.Contact = strings.TrimSpace(p.Buyer.Contact)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	p.Method = PaymentMethod(strings.ToLower(string(p.Method)))
	p.Amount = p.Amount.Round(MoneyPlaces)

	category := strings.ToLower(strings.TrimSpace(p.Category))
	p.Category = CategoryUnknown
	for _, k := range known {
		if strings.EqualFold(k, category) {
			p.Category = strings.ToLower(k)
			break
		}
	}

	items := make([]LineItem, len(p.LineItems))
	for i, li := range p.LineItems {
		li.Name = NormalizeName(li.Name)
		li.UnitPrice = li.UnitPrice.Round(MoneyPlaces)
		items[i] = li
	}
	p.LineItems = items
	return p
}

// Validate checks the invariants recordPayment relies on.
func (p Payment) Validate() error {
	if p.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	if !p.Method.Valid() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrValidation, p.Method)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrValidation, p.Amount)
	}
	if _, err := currency.ParseISO(p.Currency); err != nil {
		return fmt.Errorf("%w: currency %q: %v", ErrValidation, p.Currency, err)
	}
	if p.Method.RequiresLineItems() && len(p.LineItems) == 0 {
		return fmt.Errorf("%w: %s payments require line items", ErrValidation, p.Method)
	}
	for i, li := range p.LineItems {
		if li.Name == "" {
			return fmt.Errorf("%w: line item %d has no name", ErrValidation, i+1)
		}
		if li.Quantity <= 0 {
			return fmt.Errorf("%w: line item %d quantity must be positive", ErrValidation, i+1)
		}
		if li.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line item %d price must not be negative", ErrValidation, i+1)
		}
	}
	return nil
}
