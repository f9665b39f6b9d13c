package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

func testOrder() domain.Order {
	return domain.Order{
		ID:            "ord-1",
		TransactionID: "TXN-1",
		Amount:        decimal.RequireFromString("12.5"),
		Currency:      "USD",
		Category:      "minecraft",
		PaymentMethod: domain.PaymentMethodPayPal,
	}
}

func TestHTTPPayout_Release(t *testing.T) {
	var got releaseRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewHTTPPayout(srv.URL, "secret", time.Second)
	require.NoError(t, g.Release(context.Background(), testOrder()))

	assert.Equal(t, "TXN-1", got.TransactionID)
	assert.Equal(t, "12.50", got.Amount)
	assert.Equal(t, "paypal", got.Method)
	assert.Equal(t, "release-TXN-1", headers.Get(IdempotencyHeader))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
}

func TestHTTPPayout_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient escrow balance", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	err := NewHTTPPayout(srv.URL, "", time.Second).Release(context.Background(), testOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
	assert.Contains(t, err.Error(), "insufficient escrow balance")
}

func TestHTTPPayout_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	err := NewHTTPPayout(srv.URL, "", 20*time.Millisecond).Release(context.Background(), testOrder())
	assert.Error(t, err)
}

func TestLogOnly_Release(t *testing.T) {
	assert.NoError(t, NewLogOnly(nil).Release(context.Background(), testOrder()))
}
