package handler

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/escrow-relay/internal/adapter/handler/rpc"
)

// Buyer-facing methods, public as their HTTP routes are.
var publicRPCMethods = map[string]bool{
	rpc.FullMethod("GetOrderStatus"): true,
	rpc.FullMethod("ConfirmReceipt"): true,
}

// UnaryAuthInterceptor requires an admin bearer token in the "authorization" metadata for
// every method except the buyer-facing ones. With a nil Authenticator the admin methods
// are refused outright, matching the HTTP API where admin routes are not mounted.
func UnaryAuthInterceptor(auth *Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if publicRPCMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		if auth == nil {
			return nil, status.Error(codes.Unauthenticated, "admin methods are disabled")
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		parts := strings.Fields(values[0])
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		subject, err := auth.Verify(parts[1])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(context.WithValue(ctx, adminKey, subject), req)
	}
}
