package handler

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/escrow-relay/internal/adapter/handler/rpc"
	"github.com/rl1809/escrow-relay/internal/core/domain"
	"github.com/rl1809/escrow-relay/internal/core/service"
)

// GRPCHandler serves the OrderLifecycle service. Admin methods rely on
// UnaryAuthInterceptor; ConfirmReceipt checks the buyer token itself when buyers is set.
type GRPCHandler struct {
	orderService *service.OrderService
	buyers       *BuyerTokens
}

func NewGRPCHandler(orderService *service.OrderService, buyers *BuyerTokens) *GRPCHandler {
	return &GRPCHandler{orderService: orderService, buyers: buyers}
}

func (h *GRPCHandler) RecordPayment(ctx context.Context, req *rpc.RecordPaymentRequest) (*rpc.RecordPaymentReply, error) {
	payment, err := paymentFromRPC(req)
	if err != nil {
		return nil, grpcError(err)
	}

	order, created, err := h.orderService.RecordPayment(ctx, payment)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.RecordPaymentReply{
		Order:      h.order(order),
		Created:    created,
		BuyerToken: h.buyers.issue(order.TransactionID),
	}, nil
}

func (h *GRPCHandler) MarkDelivered(ctx context.Context, req *rpc.OrderRequest) (*rpc.Order, error) {
	order, err := h.orderService.MarkDelivered(ctx, req.TransactionID)
	if err != nil {
		return nil, grpcError(err)
	}
	return h.order(order), nil
}

func (h *GRPCHandler) ConfirmReceipt(ctx context.Context, req *rpc.OrderRequest) (*rpc.Order, error) {
	if err := h.buyers.verify(req.TransactionID, req.BuyerToken); err != nil {
		return nil, grpcError(err)
	}
	order, err := h.orderService.ConfirmReceipt(ctx, req.TransactionID)
	if err != nil {
		return nil, grpcError(err)
	}
	return h.order(order), nil
}

func (h *GRPCHandler) OpenDispute(ctx context.Context, req *rpc.OrderRequest) (*rpc.Order, error) {
	order, err := h.orderService.OpenDispute(ctx, req.TransactionID)
	if err != nil {
		return nil, grpcError(err)
	}
	return h.order(order), nil
}

func (h *GRPCHandler) GetOrderStatus(ctx context.Context, req *rpc.OrderRequest) (*rpc.Order, error) {
	order, err := h.orderService.GetOrderStatus(ctx, req.TransactionID)
	if err != nil {
		return nil, grpcError(err)
	}
	return h.order(order), nil
}

func (h *GRPCHandler) SweepExpired(ctx context.Context, _ *rpc.SweepRequest) (*rpc.SweepReply, error) {
	n, err := h.orderService.SweepExpired(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.SweepReply{Confirmed: n}, nil
}

func (h *GRPCHandler) order(o domain.Order) *rpc.Order {
	return newRPCOrder(o, h.orderService.AutoConfirmWindow())
}

func paymentFromRPC(req *rpc.RecordPaymentRequest) (domain.Payment, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("%w: amount %q", domain.ErrValidation, req.Amount)
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for i, it := range req.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return domain.Payment{}, fmt.Errorf("%w: line item %d price %q", domain.ErrValidation, i+1, it.UnitPrice)
		}
		items = append(items, domain.LineItem{Name: it.Name, Quantity: it.Quantity, UnitPrice: price})
	}

	return domain.Payment{
		TransactionID: req.TransactionID,
		Buyer:         domain.Buyer{DisplayName: req.BuyerName, Contact: req.BuyerContact},
		Amount:        amount,
		Currency:      req.Currency,
		LineItems:     items,
		Category:      req.Category,
		Method:        domain.PaymentMethod(req.Method),
	}, nil
}
