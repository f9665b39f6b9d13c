package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

const (
	ProviderNowPayments = "nowpayments"

	// SignatureHeader carries the hex HMAC-SHA512 of the sorted IPN body.
	SignatureHeader = "x-nowpayments-sig"
)

const schemaNowPayments = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["payment_id", "payment_status", "price_amount", "price_currency"],
  "properties": {
    "payment_id": { "type": ["integer", "string"] },
    "payment_status": { "type": "string" },
    "price_amount": { "type": ["number", "string"] },
    "price_currency": { "type": "string", "minLength": 3 },
    "order_id": { "type": ["string", "null"] },
    "order_description": { "type": ["string", "null"] }
  }
}`

var nowPaymentsSchema = mustSchema(schemaNowPayments)

type nowPaymentsIPN struct {
	PaymentID        json.Number     `json:"payment_id"`
	PaymentStatus    string          `json:"payment_status"`
	PriceAmount      decimal.Decimal `json:"price_amount"`
	PriceCurrency    string          `json:"price_currency"`
	OrderID          string          `json:"order_id"`
	OrderDescription string          `json:"order_description"`
}

// NowPayments verifies and normalizes crypto invoice IPNs.
type NowPayments struct {
	secret []byte
}

func NewNowPayments(ipnSecret string) *NowPayments {
	return &NowPayments{secret: []byte(ipnSecret)}
}

// Verify checks the IPN signature. The provider signs the body re-serialized with its keys
// sorted, so the raw bytes cannot be hashed directly.
func (n *NowPayments) Verify(body []byte, signature string) error {
	if len(n.secret) == 0 {
		return fmt.Errorf("%w: nowpayments ipn secret is not configured", domain.ErrForbidden)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", domain.ErrForbidden, SignatureHeader)
	}

	canonical, err := sortedJSON(body)
	if err != nil {
		return fmt.Errorf("%w: decode nowpayments payload: %v", domain.ErrValidation, err)
	}

	mac := hmac.New(sha512.New, n.secret)
	mac.Write(canonical)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil || !hmac.Equal(expected, got) {
		return fmt.Errorf("%w: bad nowpayments signature", domain.ErrForbidden)
	}
	return nil
}

// Sign produces the signature a well-behaved provider would send for body.
func (n *NowPayments) Sign(body []byte) (string, error) {
	canonical, err := sortedJSON(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, n.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Parse normalizes a verified IPN. Only finished and confirmed payments are recorded;
// other statuses return ErrIgnored.
func (n *NowPayments) Parse(body []byte) (domain.Payment, error) {
	if err := validateJSONSchema(nowPaymentsSchema, body); err != nil {
		return domain.Payment{}, err
	}

	var ipn nowPaymentsIPN
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&ipn); err != nil {
		return domain.Payment{}, fmt.Errorf("%w: decode nowpayments payload: %v", domain.ErrValidation, err)
	}

	switch strings.ToLower(ipn.PaymentStatus) {
	case "finished", "confirmed":
	default:
		return domain.Payment{}, fmt.Errorf("%w: payment %s is %s", ErrIgnored, ipn.PaymentID, ipn.PaymentStatus)
	}

	txn := ipn.OrderID
	if txn == "" {
		txn = "np-" + ipn.PaymentID.String()
	}

	return domain.Payment{
		TransactionID: txn,
		Buyer:         domain.Buyer{DisplayName: ipn.OrderDescription},
		Amount:        ipn.PriceAmount,
		Currency:      ipn.PriceCurrency,
		Method:        domain.PaymentMethodCrypto,
	}, nil
}

// sortedJSON re-encodes body with object keys sorted at every level, numbers kept verbatim
// and no HTML escaping.
func sortedJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
