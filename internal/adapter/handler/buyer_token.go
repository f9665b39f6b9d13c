package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

// BuyerTokenHeader carries the per-order token on POST /api/orders/{id}/confirm.
const BuyerTokenHeader = "X-Buyer-Token"

// BuyerTokens derives the capability a buyer needs to release an order's funds. The token
// is HMAC-SHA256(secret, transaction id) and is handed to the storefront in the webhook
// response, so no token table is stored.
type BuyerTokens struct {
	secret []byte
}

func NewBuyerTokens(secret string) *BuyerTokens {
	return &BuyerTokens{secret: []byte(secret)}
}

func (b *BuyerTokens) Issue(transactionID string) string {
	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(transactionID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *BuyerTokens) Verify(transactionID, token string) error {
	got, err := hex.DecodeString(token)
	if err != nil || token == "" {
		return fmt.Errorf("%w: invalid buyer token", domain.ErrForbidden)
	}
	want, _ := hex.DecodeString(b.Issue(transactionID))
	if !hmac.Equal(got, want) {
		return fmt.Errorf("%w: invalid buyer token", domain.ErrForbidden)
	}
	return nil
}

// issue and verify treat a nil *BuyerTokens as "tokens disabled".
func (b *BuyerTokens) issue(transactionID string) string {
	if b == nil {
		return ""
	}
	return b.Issue(transactionID)
}

func (b *BuyerTokens) verify(transactionID, token string) error {
	if b == nil {
		return nil
	}
	return b.Verify(transactionID, token)
}
