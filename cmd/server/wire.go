package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/escrow-relay/internal/adapter/gateway"
	"github.com/rl1809/escrow-relay/internal/adapter/handler"
	"github.com/rl1809/escrow-relay/internal/adapter/messaging"
	"github.com/rl1809/escrow-relay/internal/adapter/notify"
	"github.com/rl1809/escrow-relay/internal/adapter/storage"
	"github.com/rl1809/escrow-relay/internal/config"
	"github.com/rl1809/escrow-relay/internal/core/domain"
	"github.com/rl1809/escrow-relay/internal/core/service"
	"github.com/rl1809/escrow-relay/internal/port"
)

// app holds the wired service and everything that has to be closed on shutdown.
type app struct {
	orderService *service.OrderService
	scheduler    *service.Scheduler
	cache        port.CacheRepository
	support      *notify.SupportRelay

	closers []func() error
}

func (a *app) Close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close(logger)
		return nil, err
	}

	// Store
	dialect, err := storage.ParseDialect(cfg.Store.Driver)
	if err != nil {
		return nil, err
	}
	db, err := storage.OpenSQL(ctx, dialect, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	logger.Info("connected to store", "driver", dialect)

	store := storage.NewSQLAdapter(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		return fail(err)
	}

	// Cache
	cache, err := openCache(ctx, cfg.Redis, logger, a)
	if err != nil {
		return fail(err)
	}
	a.cache = cache

	// Funds release
	var releaser port.FundsReleaser
	if cfg.Payout.URL != "" {
		releaser = gateway.NewHTTPPayout(cfg.Payout.URL, cfg.Payout.Token, cfg.Payout.Timeout)
		logger.Info("payout gateway configured", "url", cfg.Payout.URL)
	} else {
		releaser = gateway.NewLogOnly(logger)
		logger.Warn("payout.url not set, releases are only logged")
	}

	// Notifications
	var transport port.Notifier
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(notify.TelegramOptions{
			Token: cfg.Telegram.Token,
			Chats: map[domain.Audience]int64{
				domain.AudienceAdmin: cfg.Telegram.ChatID,
				domain.AudienceBuyer: cfg.Telegram.BuyerChatID,
			},
			Client: &http.Client{Timeout: cfg.Notify.SendTimeout},
			Logger: logger,
		})
		if err != nil {
			return fail(err)
		}
		transport = tg
	} else {
		transport = notify.NewLog(logger)
	}
	notifier := notify.NewAsync(transport, notify.AsyncOptions{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		SendTimeout: cfg.Notify.SendTimeout,
		Logger:      logger,
	})
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return notifier.Close(ctx)
	})

	if cfg.Telegram.SupportRelay {
		// Long polling holds a request open, so the relay gets its own client.
		bot, err := notify.NewTelegram(notify.TelegramOptions{
			Token:  cfg.Telegram.Token,
			Client: &http.Client{Timeout: notify.SupportPollTimeout + 10*time.Second},
			Logger: logger,
		})
		if err != nil {
			return fail(err)
		}
		a.support = notify.NewSupportRelay(bot, cfg.Telegram.ChatID, logger)
	}

	// Events
	var events port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, logger)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, producer.Close)
		events = producer
		logger.Info("publishing order events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.EventsTopic)
	}

	a.scheduler = service.NewScheduler(cfg.Lifecycle.SweepInterval, logger)
	a.orderService = service.NewOrderService(service.Options{
		Orders:            store,
		Reviews:           store,
		Cache:             cache,
		Releaser:          releaser,
		Notifier:          notifier,
		Events:            events,
		Timer:             a.scheduler,
		AutoConfirmWindow: cfg.Lifecycle.AutoConfirmWindow,
		ReleaseLockTTL:    cfg.Lifecycle.ReleaseLockTTL,
		SweepBatchSize:    cfg.Lifecycle.SweepBatch,
		Categories:        cfg.Lifecycle.Categories,
		Logger:            logger,
	})
	return a, nil
}

func openCache(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger, a *app) (port.CacheRepository, error) {
	if cfg.Addr == "" {
		logger.Warn("redis.addr not set, locks are local to this process")
		return storage.NewMemoryCache(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	logger.Info("connected to redis", "addr", cfg.Addr)
	return storage.NewRedisAdapter(rdb), nil
}

// newAuthenticator returns nil when no admin credentials are configured.
func newAuthenticator(cfg config.AdminConfig) (*handler.Authenticator, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	hash := cfg.PasswordHash
	if hash == "" {
		var err error
		if hash, err = handler.HashPassword(cfg.Password); err != nil {
			return nil, err
		}
	}
	return handler.NewAuthenticator(cfg.Username, hash, cfg.JWTSecret, cfg.TokenTTL)
}
