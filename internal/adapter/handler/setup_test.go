package handler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/escrow-relay/internal/adapter/gateway"
	"github.com/rl1809/escrow-relay/internal/adapter/notify"
	"github.com/rl1809/escrow-relay/internal/adapter/storage"
	"github.com/rl1809/escrow-relay/internal/core/service"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testDeps struct {
	svc   *service.OrderService
	cache *storage.MemoryCache
	clock *testClock
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenSQL(ctx, storage.DialectSQLite, "file:"+filepath.Join(t.TempDir(), "relay.db")+"?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewSQLAdapter(db, storage.DialectSQLite)
	require.NoError(t, store.Migrate(ctx))

	logger := quietLogger()
	deps := &testDeps{
		cache: storage.NewMemoryCache(),
		clock: &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	deps.svc = service.NewOrderService(service.Options{
		Orders:     store,
		Reviews:    store,
		Cache:      deps.cache,
		Releaser:   gateway.NewLogOnly(logger),
		Notifier:   notify.NewLog(logger),
		Categories: []string{"minecraft"},
		Now:        deps.clock.Now,
		Logger:     logger,
	})
	return deps
}
