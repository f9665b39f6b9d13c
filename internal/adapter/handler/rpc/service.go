// Package rpc describes the OrderLifecycle gRPC service. Messages are plain structs carried
// by a JSON codec, so no generated code is involved.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "escrow.v1.OrderLifecycle"

// FullMethod returns the method name interceptors see, e.g. /escrow.v1.OrderLifecycle/SweepExpired.
func FullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

type LineItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type RecordPaymentRequest struct {
	TransactionID string     `json:"transaction_id"`
	BuyerName     string     `json:"buyer_name"`
	BuyerContact  string     `json:"buyer_contact"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Items         []LineItem `json:"items"`
	Category      string     `json:"category"`
	Method        string     `json:"method"`
}

type RecordPaymentReply struct {
	Order      *Order `json:"order"`
	Created    bool   `json:"created"`
	BuyerToken string `json:"buyer_token,omitempty"`
}

type OrderRequest struct {
	TransactionID string `json:"transaction_id"`
	// BuyerToken authorizes ConfirmReceipt when buyer tokens are enabled.
	BuyerToken string `json:"buyer_token,omitempty"`
}

type Order struct {
	TransactionID string     `json:"transaction_id"`
	State         string     `json:"state"`
	BuyerName     string     `json:"buyer_name"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Items         []LineItem `json:"items,omitempty"`
	Category      string     `json:"category"`
	Method        string     `json:"method"`
	DeliveredAt   string     `json:"delivered_at,omitempty"`
	ConfirmedAt   string     `json:"confirmed_at,omitempty"`
	AutoConfirmAt string     `json:"auto_confirm_at,omitempty"`
	DisputeOpened bool       `json:"dispute_opened"`
	ReviewLeft    bool       `json:"review_left"`
}

type SweepRequest struct{}

type SweepReply struct {
	Confirmed int `json:"confirmed"`
}

type OrderLifecycleServer interface {
	RecordPayment(context.Context, *RecordPaymentRequest) (*RecordPaymentReply, error)
	MarkDelivered(context.Context, *OrderRequest) (*Order, error)
	ConfirmReceipt(context.Context, *OrderRequest) (*Order, error)
	OpenDispute(context.Context, *OrderRequest) (*Order, error)
	GetOrderStatus(context.Context, *OrderRequest) (*Order, error)
	SweepExpired(context.Context, *SweepRequest) (*SweepReply, error)
}

func unary[Req, Resp any](method string, call func(OrderLifecycleServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderLifecycleServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderLifecycleServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderLifecycleServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RecordPayment", OrderLifecycleServer.RecordPayment),
		unary("MarkDelivered", OrderLifecycleServer.MarkDelivered),
		unary("ConfirmReceipt", OrderLifecycleServer.ConfirmReceipt),
		unary("OpenDispute", OrderLifecycleServer.OpenDispute),
		unary("GetOrderStatus", OrderLifecycleServer.GetOrderStatus),
		unary("SweepExpired", OrderLifecycleServer.SweepExpired),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "escrow/v1/order_lifecycle",
}

func RegisterOrderLifecycleServer(s grpc.ServiceRegistrar, srv OrderLifecycleServer) {
	s.RegisterService(&ServiceDesc, srv)
}
