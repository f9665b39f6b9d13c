package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

const (
	DefaultTimeout = 10 * time.Second

	// IdempotencyHeader lets the payout provider collapse retried releases of one order.
	IdempotencyHeader = "Idempotency-Key"
)

type releaseRequest struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Method        string `json:"method"`
	Category      string `json:"category"`
}

// HTTPPayout releases escrowed funds by POSTing to the payout provider. Any non-2xx
// response is a failure and the order stays unconfirmed.
type HTTPPayout struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPPayout(url, token string, timeout time.Duration) *HTTPPayout {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPPayout{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

func (g *HTTPPayout) Release(ctx context.Context, order domain.Order) error {
	body, err := json.Marshal(releaseRequest{
		OrderID:       order.ID,
		TransactionID: order.TransactionID,
		Amount:        order.Amount.StringFixed(2),
		Currency:      order.Currency,
		Method:        string(order.PaymentMethod),
		Category:      order.Category,
	})
	if err != nil {
		return fmt.Errorf("encode release: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, "release-"+order.TransactionID)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("release %s: %w", order.TransactionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("release %s: payout provider returned %d: %s",
			order.TransactionID, resp.StatusCode, bytes.TrimSpace(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// LogOnly records releases without moving money, for deployments where payouts are settled
// by hand from the admin chat.
type LogOnly struct {
	logger *slog.Logger
}

func NewLogOnly(logger *slog.Logger) *LogOnly {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOnly{logger: logger}
}

func (l *LogOnly) Release(ctx context.Context, order domain.Order) error {
	l.logger.InfoContext(ctx, "funds released",
		"transaction_id", order.TransactionID,
		"amount", order.Amount.StringFixed(2),
		"currency", order.Currency)
	return nil
}
