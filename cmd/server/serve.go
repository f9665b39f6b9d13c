package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/rl1809/escrow-relay/internal/adapter/handler"
	"github.com/rl1809/escrow-relay/internal/adapter/handler/rpc"
	"github.com/rl1809/escrow-relay/internal/adapter/messaging"
	"github.com/rl1809/escrow-relay/internal/adapter/webhook"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC APIs, the payment consumer and the auto-release scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(parent context.Context, root *rootOptions) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	auth, err := newAuthenticator(cfg.Admin)
	if err != nil {
		return err
	}
	if auth == nil {
		logger.Warn("admin credentials not set, admin routes and RPCs are disabled")
	}
	var buyers *handler.BuyerTokens
	if secret := cfg.BuyerTokenSecret(); secret != "" {
		buyers = handler.NewBuyerTokens(secret)
	} else {
		logger.Warn("no buyer token secret, order confirmation is unauthenticated")
	}

	// Bind everything that can fail before any goroutine starts.
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPC.Addr, err)
	}
	defer grpcLis.Close()

	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTP.Addr, err)
	}
	defer httpLis.Close()

	var group sarama.ConsumerGroup
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.PaymentsTopic != "" {
		group, err = messaging.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			return err
		}
		defer group.Close()
	}

	var wg sync.WaitGroup

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryAuthInterceptor(auth)))
	rpc.RegisterOrderLifecycleServer(grpcServer, handler.NewGRPCHandler(a.orderService, buyers))
	go func() {
		logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// HTTP server
	var limiter *handler.IPRateLimiter
	if cfg.Webhook.RateRPS > 0 {
		limiter = handler.NewIPRateLimiter(cfg.Webhook.RateRPS, cfg.Webhook.RateBurst)
	}
	httpHandler := handler.NewHTTPHandler(a.orderService, handler.HTTPOptions{
		Auth:        auth,
		Buyers:      buyers,
		Cache:       a.cache,
		NowPayments: webhook.NewNowPayments(cfg.Webhook.NowPaymentsIPNSecret),
		Limiter:     limiter,
		Logger:      logger,
	})
	httpServer := &http.Server{
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", httpLis.Addr().String())
		if err := httpServer.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Scheduler
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scheduler.Run(ctx, a.orderService)
	}()

	// Kafka payment consumer
	if group != nil {
		consumer := messaging.NewPaymentConsumer(a.orderService, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			messaging.RunPaymentConsumer(ctx, group, cfg.Kafka.PaymentsTopic, consumer, logger)
		}()
		logger.Info("consuming payments", "topic", cfg.Kafka.PaymentsTopic, "group", cfg.Kafka.GroupID)
	}

	// Telegram support relay
	if a.support != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.support.Run(ctx)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	wg.Wait()
	logger.Info("background workers stopped")
	return nil
}
