package rpc

import (
	"context"

	"google.golang.org/grpc"
)

type OrderLifecycleClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderLifecycleClient(cc grpc.ClientConnInterface) *OrderLifecycleClient {
	return &OrderLifecycleClient{cc: cc}
}

func (c *OrderLifecycleClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, FullMethod(method), in, out, opts...)
}

func (c *OrderLifecycleClient) RecordPayment(ctx context.Context, in *RecordPaymentRequest, opts ...grpc.CallOption) (*RecordPaymentReply, error) {
	out := new(RecordPaymentReply)
	if err := c.invoke(ctx, "RecordPayment", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderLifecycleClient) MarkDelivered(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*Order, error) {
	out := new(Order)
	if err := c.invoke(ctx, "MarkDelivered", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderLifecycleClient) ConfirmReceipt(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*Order, error) {
	out := new(Order)
	if err := c.invoke(ctx, "ConfirmReceipt", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderLifecycleClient) OpenDispute(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*Order, error) {
	out := new(Order)
	if err := c.invoke(ctx, "OpenDispute", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderLifecycleClient) GetOrderStatus(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*Order, error) {
	out := new(Order)
	if err := c.invoke(ctx, "GetOrderStatus", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderLifecycleClient) SweepExpired(ctx context.Context, in *SweepRequest, opts ...grpc.CallOption) (*SweepReply, error) {
	out := new(SweepReply)
	if err := c.invoke(ctx, "SweepExpired", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// BearerToken attaches an admin token to every call. It is sent over plaintext
// connections too, so deployments should keep the gRPC port on a private network.
type BearerToken string

func (t BearerToken) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

func (t BearerToken) RequireTransportSecurity() bool { return false }
