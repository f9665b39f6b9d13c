package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/escrow-relay/internal/adapter/storage"
	"github.com/rl1809/escrow-relay/internal/core/domain"
	"github.com/rl1809/escrow-relay/internal/core/service"
	"github.com/rl1809/escrow-relay/internal/port"
)

// countingReleaser records how often each order had its funds released.
type countingReleaser struct {
	mu    sync.Mutex
	byTxn map[string]int
}

func (c *countingReleaser) Release(ctx context.Context, order domain.Order) error {
	time.Sleep(2 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byTxn[order.TransactionID]++
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func main() {
	orders := flag.Int("orders", 50, "delivered orders to race")
	confirmers := flag.Int("confirmers", 4, "concurrent buyer confirmations per order")
	sweepers := flag.Int("sweepers", 4, "concurrent sweep passes")
	redisAddr := flag.String("redis", os.Getenv("REDIS_ADDR"), "redis address; empty uses the in-process cache")
	flag.Parse()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	dir, err := os.MkdirTemp("", "escrow-stress")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	db, err := storage.OpenSQL(ctx, storage.DialectSQLite, "file:"+filepath.Join(dir, "stress.db")+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()
	store := storage.NewSQLAdapter(db, storage.DialectSQLite)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var cache port.CacheRepository = storage.NewMemoryCache()
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb)
	}

	clk := &clock{now: time.Now().UTC()}
	releaser := &countingReleaser{byTxn: make(map[string]int)}
	svc := service.NewOrderService(service.Options{
		Orders:   store,
		Reviews:  store,
		Cache:    cache,
		Releaser: releaser,
		Now:      clk.Now,
		Logger:   logger,
	})

	run := time.Now().UnixNano()
	txns := make([]string, *orders)
	for i := range txns {
		txns[i] = fmt.Sprintf("STRESS-%d-%d", run, i)
		_, _, err := svc.RecordPayment(ctx, domain.Payment{
			TransactionID: txns[i],
			Buyer:         domain.Buyer{DisplayName: fmt.Sprintf("player-%d", i)},
			Amount:        decimal.RequireFromString("4.99"),
			Currency:      "USD",
			LineItems: []domain.LineItem{
				{Name: "Netherite pickaxe", Quantity: 1, UnitPrice: decimal.RequireFromString("4.99")},
			},
			Category: "minecraft",
			Method:   domain.PaymentMethodPayPal,
		})
		if err != nil {
			log.Fatalf("record %s: %v", txns[i], err)
		}
		if _, err := svc.MarkDelivered(ctx, txns[i]); err != nil {
			log.Fatalf("deliver %s: %v", txns[i], err)
		}
	}

	// Every order is now due, so buyers and the sweep race for the same release.
	clk.advance(svc.AutoConfirmWindow())

	var confirmed, confirmRejected, swept atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, txn := range txns {
		for j := 0; j < *confirmers; j++ {
			wg.Add(1)
			go func(txn string) {
				defer wg.Done()
				if _, err := svc.ConfirmReceipt(ctx, txn); err == nil {
					confirmed.Add(1)
				} else {
					confirmRejected.Add(1)
				}
			}(txn)
		}
	}
	for j := 0; j < *sweepers; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := svc.SweepExpired(ctx)
			if err != nil {
				logger.Warn("sweep failed", "error", err)
			}
			swept.Add(int32(n))
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Whatever lost a lock race is picked up here, as the periodic sweep would.
	late, err := svc.SweepExpired(ctx)
	if err != nil {
		log.Fatalf("final sweep: %v", err)
	}

	var buyer, auto, unsettled, duplicated int
	for _, txn := range txns {
		o, err := svc.GetOrderStatus(ctx, txn)
		if err != nil {
			log.Fatalf("status %s: %v", txn, err)
		}
		switch o.State() {
		case domain.StateConfirmedByBuyer:
			buyer++
		case domain.StateAutoConfirmed:
			auto++
		default:
			unsettled++
		}
		if releaser.byTxn[txn] != 1 {
			duplicated++
		}
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Orders:              %d\n", *orders)
	fmt.Printf("Confirm calls:       %d (%d ok, %d rejected)\n", *orders**confirmers, confirmed.Load(), confirmRejected.Load())
	fmt.Printf("Sweep passes:        %d (%d confirmed, %d in final pass)\n", *sweepers, swept.Load(), late)
	fmt.Printf("Confirmed by buyer:  %d\n", buyer)
	fmt.Printf("Auto-confirmed:      %d\n", auto)
	fmt.Printf("Duration:            %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	if unsettled != 0 {
		fmt.Printf("FAIL: %d orders left unsettled\n", unsettled)
		ok = false
	}
	if duplicated != 0 {
		fmt.Printf("FAIL: %d orders were not released exactly once\n", duplicated)
		ok = false
	}
	if buyer+auto != *orders {
		fmt.Printf("FAIL: expected %d settled orders, got %d\n", *orders, buyer+auto)
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println("PASS: every order settled once with exactly one release")
}
