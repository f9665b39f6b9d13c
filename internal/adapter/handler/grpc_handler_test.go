package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/escrow-relay/internal/adapter/handler/rpc"
)

type grpcTestServer struct {
	*testDeps
	lis  *bufconn.Listener
	auth *Authenticator
}

func newGRPCTestServer(t *testing.T, auth *Authenticator, buyers *BuyerTokens) *grpcTestServer {
	t.Helper()
	deps := newTestDeps(t)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryAuthInterceptor(auth)))
	rpc.RegisterOrderLifecycleServer(srv, NewGRPCHandler(deps.svc, buyers))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return &grpcTestServer{testDeps: deps, lis: lis, auth: auth}
}

func (s *grpcTestServer) client(t *testing.T, opts ...grpc.DialOption) *rpc.OrderLifecycleClient {
	t.Helper()
	opts = append([]grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return rpc.NewOrderLifecycleClient(conn)
}

func (s *grpcTestServer) adminClient(t *testing.T) *rpc.OrderLifecycleClient {
	t.Helper()
	token, _, err := s.auth.Login("admin", "hunter2")
	require.NoError(t, err)
	return s.client(t, grpc.WithPerRPCCredentials(rpc.BearerToken(token)))
}

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	auth, err := NewAuthenticator("admin", hash, "jwt-secret", time.Hour)
	require.NoError(t, err)
	return auth
}

func newTestGRPCClient(t *testing.T) (*rpc.OrderLifecycleClient, *testDeps) {
	t.Helper()
	s := newGRPCTestServer(t, newTestAuthenticator(t), nil)
	return s.adminClient(t), s.testDeps
}

func TestGRPC_Lifecycle(t *testing.T) {
	client, deps := newTestGRPCClient(t)
	ctx := context.Background()

	reply, err := client.RecordPayment(ctx, &rpc.RecordPaymentRequest{
		TransactionID: "TXN-1",
		BuyerName:     "Steve",
		Amount:        "10.00",
		Currency:      "usd",
		Items:         []rpc.LineItem{{Name: "sword", Quantity: 1, UnitPrice: "10"}},
		Category:      "Minecraft",
		Method:        "paypal",
	})
	require.NoError(t, err)
	assert.True(t, reply.Created)
	assert.Equal(t, "pending", reply.Order.State)
	assert.Equal(t, "minecraft", reply.Order.Category)

	order, err := client.MarkDelivered(ctx, &rpc.OrderRequest{TransactionID: "TXN-1"})
	require.NoError(t, err)
	assert.Equal(t, "delivered", order.State)
	assert.Equal(t, deps.clock.Now().Add(24*time.Hour).Format(time.RFC3339), order.AutoConfirmAt)

	order, err = client.ConfirmReceipt(ctx, &rpc.OrderRequest{TransactionID: "TXN-1"})
	require.NoError(t, err)
	assert.Equal(t, "confirmed_by_buyer", order.State)

	order, err = client.GetOrderStatus(ctx, &rpc.OrderRequest{TransactionID: "TXN-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, order.ConfirmedAt)
	assert.Empty(t, order.AutoConfirmAt)

	_, err = client.OpenDispute(ctx, &rpc.OrderRequest{TransactionID: "TXN-1"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGRPC_ErrorCodes(t *testing.T) {
	client, _ := newTestGRPCClient(t)
	ctx := context.Background()

	_, err := client.GetOrderStatus(ctx, &rpc.OrderRequest{TransactionID: "NOPE"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.RecordPayment(ctx, &rpc.RecordPaymentRequest{TransactionID: "TXN-1", Amount: "ten"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.RecordPayment(ctx, &rpc.RecordPaymentRequest{TransactionID: "TXN-1", Amount: "5", Currency: "USD", Method: "cash"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_Sweep(t *testing.T) {
	client, deps := newTestGRPCClient(t)
	ctx := context.Background()

	_, err := client.RecordPayment(ctx, &rpc.RecordPaymentRequest{
		TransactionID: "TXN-C", Amount: "3", Currency: "USD", Method: "crypto",
	})
	require.NoError(t, err)
	_, err = client.MarkDelivered(ctx, &rpc.OrderRequest{TransactionID: "TXN-C"})
	require.NoError(t, err)

	reply, err := client.SweepExpired(ctx, &rpc.SweepRequest{})
	require.NoError(t, err)
	assert.Zero(t, reply.Confirmed)

	deps.clock.Advance(24 * time.Hour)
	reply, err = client.SweepExpired(ctx, &rpc.SweepRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Confirmed)
}

func TestGRPC_AdminMethodsRequireToken(t *testing.T) {
	s := newGRPCTestServer(t, newTestAuthenticator(t), nil)
	ctx := context.Background()

	_, err := s.adminClient(t).RecordPayment(ctx, &rpc.RecordPaymentRequest{
		TransactionID: "TXN-9", Amount: "3", Currency: "USD", Method: "crypto",
	})
	require.NoError(t, err)

	anonymous := s.client(t)
	forged := s.client(t, grpc.WithPerRPCCredentials(rpc.BearerToken("not-a-jwt")))
	for _, c := range []*rpc.OrderLifecycleClient{anonymous, forged} {
		_, err = c.RecordPayment(ctx, &rpc.RecordPaymentRequest{
			TransactionID: "TXN-10", Amount: "3", Currency: "USD", Method: "crypto",
		})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
		_, err = c.MarkDelivered(ctx, &rpc.OrderRequest{TransactionID: "TXN-9"})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
		_, err = c.OpenDispute(ctx, &rpc.OrderRequest{TransactionID: "TXN-9"})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
		_, err = c.SweepExpired(ctx, &rpc.SweepRequest{})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	}

	order, err := anonymous.GetOrderStatus(ctx, &rpc.OrderRequest{TransactionID: "TXN-9"})
	require.NoError(t, err)
	assert.Equal(t, "pending", order.State)

	_, err = anonymous.GetOrderStatus(ctx, &rpc.OrderRequest{TransactionID: "TXN-10"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_AdminMethodsDisabledWithoutAuth(t *testing.T) {
	s := newGRPCTestServer(t, nil, nil)
	c := s.client(t)
	ctx := context.Background()

	_, err := c.RecordPayment(ctx, &rpc.RecordPaymentRequest{
		TransactionID: "TXN-1", Amount: "3", Currency: "USD", Method: "crypto",
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = c.GetOrderStatus(ctx, &rpc.OrderRequest{TransactionID: "TXN-1"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_ConfirmRequiresBuyerToken(t *testing.T) {
	buyers := NewBuyerTokens("buyer-secret")
	s := newGRPCTestServer(t, newTestAuthenticator(t), buyers)
	admin := s.adminClient(t)
	buyer := s.client(t)
	ctx := context.Background()

	reply, err := admin.RecordPayment(ctx, &rpc.RecordPaymentRequest{
		TransactionID: "TXN-1", Amount: "3", Currency: "USD", Method: "crypto",
	})
	require.NoError(t, err)
	assert.Equal(t, buyers.Issue("TXN-1"), reply.BuyerToken)
	_, err = admin.MarkDelivered(ctx, &rpc.OrderRequest{TransactionID: "TXN-1"})
	require.NoError(t, err)

	_, err = buyer.ConfirmReceipt(ctx, &rpc.OrderRequest{TransactionID: "TXN-1"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	order, err := buyer.ConfirmReceipt(ctx, &rpc.OrderRequest{TransactionID: "TXN-1", BuyerToken: reply.BuyerToken})
	require.NoError(t, err)
	assert.Equal(t, "confirmed_by_buyer", order.State)
}
