package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

const messageTimeLayout = "2006-01-02 15:04 MST"

func purchaseMessage(o domain.Order, resent bool) string {
	var b strings.Builder
	if resent {
		b.WriteString("Resent order\n")
	} else {
		b.WriteString("New purchase\n")
	}
	fmt.Fprintf(&b, "Transaction: %s\n", o.TransactionID)
	fmt.Fprintf(&b, "Buyer: %s", o.Buyer.DisplayName)
	if o.Buyer.Contact != "" {
		fmt.Fprintf(&b, " <%s>", o.Buyer.Contact)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Amount: %s %s (%s)\n", o.Amount.StringFixed(2), o.Currency, o.PaymentMethod)
	fmt.Fprintf(&b, "Category: %s\n", o.Category)
	if len(o.LineItems) > 0 {
		b.WriteString("Items:\n")
		for _, li := range o.LineItems {
			fmt.Fprintf(&b, "- %s x%d (%s)\n", li.Name, li.Quantity, li.Subtotal().StringFixed(2))
		}
	}
	return b.String()
}

func deliveredMessage(o domain.Order, deadline time.Time) string {
	return fmt.Sprintf("Order %s delivered to %s\nAuto-confirmation at %s unless the buyer confirms earlier\n",
		o.TransactionID, o.Buyer.DisplayName, deadline.UTC().Format(messageTimeLayout))
}

func confirmedMessage(o domain.Order) string {
	how := "confirmed by buyer"
	if o.Delivery.AutoConfirmed {
		how = "auto-confirmed"
	}
	return fmt.Sprintf("Order %s %s, %s %s released\n",
		o.TransactionID, how, o.Amount.StringFixed(2), o.Currency)
}

func disputeMessage(o domain.Order) string {
	return fmt.Sprintf("Dispute opened on order %s (%s), auto-confirmation suspended\n",
		o.TransactionID, o.Buyer.DisplayName)
}

func reviewMessage(r domain.Review) string {
	return fmt.Sprintf("New review for %s from %s:\n%s\n", r.TransactionID, r.ReviewerName, r.Text)
}
