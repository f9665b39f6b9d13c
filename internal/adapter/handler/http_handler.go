package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/escrow-relay/internal/adapter/webhook"
	"github.com/rl1809/escrow-relay/internal/core/domain"
	"github.com/rl1809/escrow-relay/internal/core/service"
	"github.com/rl1809/escrow-relay/internal/port"
)

const (
	maxBodyBytes    = 1 << 20
	webhookDedupTTL = 24 * time.Hour
)

type HTTPHandler struct {
	orderService *service.OrderService
	auth         *Authenticator
	cache        port.CacheRepository
	nowPayments  *webhook.NowPayments
	limiter      *IPRateLimiter
	buyers       *BuyerTokens
	logger       *slog.Logger
}

type HTTPOptions struct {
	Auth        *Authenticator
	Cache       port.CacheRepository
	NowPayments *webhook.NowPayments
	Limiter     *IPRateLimiter
	// Buyers, when set, makes confirm require the order's buyer token.
	Buyers *BuyerTokens
	Logger *slog.Logger
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type LoginHTTPRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ReviewHTTPRequest struct {
	TransactionID string `json:"transaction_id"`
	Nickname      string `json:"nickname"`
	Review        string `json:"review"`
}

func NewHTTPHandler(orderService *service.OrderService, opts HTTPOptions) *HTTPHandler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowPayments := opts.NowPayments
	if nowPayments == nil {
		nowPayments = webhook.NewNowPayments("")
	}
	return &HTTPHandler{
		orderService: orderService,
		auth:         opts.Auth,
		cache:        opts.Cache,
		nowPayments:  nowPayments,
		limiter:      opts.Limiter,
		buyers:       opts.Buyers,
		logger:       logger,
	}
}

// Routes mounts the public, webhook and admin API. Admin routes are only mounted when an
// Authenticator is configured.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Post("/webhook", h.PayPalWebhook)
		r.Post("/webhook/paypal", h.PayPalWebhook)
		r.Post("/webhook/nowpayments", h.NowPaymentsWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/orders/{transactionID}", h.GetOrder)
		r.Post("/orders/{transactionID}/confirm", h.ConfirmReceipt)
		r.Get("/reviews", h.ListReviews)
		r.Post("/reviews", h.AttachReview)

		if h.auth == nil {
			return
		}
		r.Post("/login", h.Login)
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.auth.Middleware)
			r.Get("/orders", h.ListOrders)
			r.Post("/orders/{transactionID}/deliver", h.MarkDelivered)
			r.Post("/orders/{transactionID}/dispute", h.OpenDispute)
			r.Post("/orders/{transactionID}/resend", h.ResendNotification)
			r.Post("/sweep", h.Sweep)
		})
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginHTTPRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body"})
		return
	}

	token, expires, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Warn("admin login failed", "username", req.Username, "remote", remoteIP(r))
		writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data:    map[string]any{"token": token, "expires_at": expires.UTC()},
	})
}

func (h *HTTPHandler) PayPalWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	payment, err := webhook.ParsePayPal(body)
	h.recordWebhook(w, r, webhook.ProviderPayPal, body, payment, err)
}

func (h *HTTPHandler) NowPaymentsWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.nowPayments.Verify(body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		h.logger.Warn("nowpayments signature rejected", "remote", remoteIP(r), "error", err)
		h.writeError(w, err)
		return
	}
	payment, err := h.nowPayments.Parse(body)
	h.recordWebhook(w, r, webhook.ProviderNowPayments, body, payment, err)
}

// recordWebhook short-circuits redelivered bodies through the idempotency cache. The key
// is cleared again when recording fails so that the provider's retry is processed.
func (h *HTTPHandler) recordWebhook(w http.ResponseWriter, r *http.Request, provider string, body []byte, payment domain.Payment, parseErr error) {
	if errors.Is(parseErr, webhook.ErrIgnored) {
		h.logger.Info("webhook ignored", "provider", provider, "reason", parseErr)
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "ignored"})
		return
	}
	if parseErr != nil {
		h.logger.Warn("webhook rejected", "provider", provider, "error", parseErr)
		h.writeError(w, parseErr)
		return
	}

	ctx := r.Context()
	key := webhook.EventKey(provider, body)
	claimed := false
	if h.cache != nil {
		first, err := h.cache.SetIdempotency(ctx, key, webhookDedupTTL)
		switch {
		case err != nil:
			h.logger.Warn("webhook dedup unavailable", "provider", provider, "error", err)
		case !first:
			writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "duplicate delivery"})
			return
		default:
			claimed = true
		}
	}

	order, created, err := h.orderService.RecordPayment(ctx, payment)
	if err != nil {
		if claimed {
			if clearErr := h.cache.ClearIdempotency(ctx, key); clearErr != nil {
				h.logger.Warn("clear webhook dedup key", "provider", provider, "error", clearErr)
			}
		}
		h.writeError(w, err)
		return
	}

	message := "payment updated"
	if created {
		message = "payment recorded"
	}
	view := newPublicOrderView(order, h.orderService.AutoConfirmWindow())
	view.BuyerToken = h.buyers.issue(order.TransactionID)
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: message, Data: view})
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrderStatus(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: newPublicOrderView(order, h.orderService.AutoConfirmWindow())})
}

// ConfirmReceipt takes the buyer token from the X-Buyer-Token header or the token query
// parameter, so a confirm link can carry it.
func (h *HTTPHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	txn := chi.URLParam(r, "transactionID")
	token := r.Header.Get(BuyerTokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if err := h.buyers.verify(txn, token); err != nil {
		h.logger.Warn("confirm rejected", "transaction_id", txn, "remote", remoteIP(r))
		h.writeError(w, err)
		return
	}

	order, err := h.orderService.ConfirmReceipt(r.Context(), txn)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "receipt confirmed",
		Data:    newPublicOrderView(order, h.orderService.AutoConfirmWindow()),
	})
}

func (h *HTTPHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	txn := chi.URLParam(r, "transactionID")
	order, err := h.orderService.MarkDelivered(r.Context(), txn)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("order marked delivered", "transaction_id", txn, "admin", adminFromContext(r.Context()))
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "order marked delivered",
		Data:    newOrderView(order, h.orderService.AutoConfirmWindow()),
	})
}

func (h *HTTPHandler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	txn := chi.URLParam(r, "transactionID")
	order, err := h.orderService.OpenDispute(r.Context(), txn)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("dispute opened", "transaction_id", txn, "admin", adminFromContext(r.Context()))
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "dispute opened",
		Data:    newOrderView(order, h.orderService.AutoConfirmWindow()),
	})
}

func (h *HTTPHandler) ResendNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.orderService.ResendNotification(r.Context(), chi.URLParam(r, "transactionID")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "notification sent"})
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := domain.OrderFilter{State: domain.DeliveryState(r.URL.Query().Get("state"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	orders, err := h.orderService.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	window := h.orderService.AutoConfirmWindow()
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o, window))
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data:    map[string]any{"orders": views, "totals": totalsOf(orders)},
	})
}

func (h *HTTPHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.orderService.SweepExpired(r.Context())
	if err != nil {
		h.logger.Warn("manual sweep incomplete", "confirmed", n, "error", err)
		status, msg := httpStatus(err)
		writeJSON(w, status, apiResponse{Message: msg, Data: map[string]int{"confirmed": n}})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: map[string]int{"confirmed": n}})
}

func (h *HTTPHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reviews, err := h.orderService.ListReviews(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: newReviewViews(reviews)})
}

func (h *HTTPHandler) AttachReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewHTTPRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body"})
		return
	}

	review, err := h.orderService.AttachReview(r.Context(), req.TransactionID, req.Nickname, req.Review)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiResponse{Success: true, Data: newReviewViews([]domain.Review{review})[0]})
}

func (h *HTTPHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, apiResponse{Message: "payload too large"})
		return nil, false
	}
	return body, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status, msg := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, apiResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
