package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, ":50051", cfg.GRPC.Addr)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.AutoConfirmWindow)
	assert.Equal(t, time.Minute, cfg.Lifecycle.SweepInterval)
	assert.Equal(t, 100, cfg.Lifecycle.SweepBatch)
	assert.Equal(t, 2*time.Hour, cfg.Admin.TokenTTL)
	assert.False(t, cfg.Admin.Enabled())
	assert.Equal(t, 5.0, cfg.Webhook.RateRPS)
	assert.Equal(t, 4, cfg.Notify.Workers)
	assert.Equal(t, 10*time.Second, cfg.Notify.SendTimeout)
	assert.False(t, cfg.Telegram.SupportRelay)
	assert.Empty(t, cfg.BuyerTokenSecret())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	yaml := `
store:
  driver: mysql
  dsn: root:root@tcp(localhost:3306)/escrow?parseTime=true
lifecycle:
  auto_confirm_window: 72h
  categories: [minecraft, terraria]
telegram:
  token: bot-token
  chat_id: -100123
  support_relay: true
admin:
  password: hunter2
  jwt_secret: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("RELAY_LIFECYCLE_AUTO_CONFIRM_WINDOW", "48h")
	t.Setenv("RELAY_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("RELAY_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, 48*time.Hour, cfg.Lifecycle.AutoConfirmWindow)
	assert.Equal(t, []string{"minecraft", "terraria"}, cfg.Lifecycle.Categories)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, int64(-100123), cfg.Telegram.ChatID)
	assert.True(t, cfg.Admin.Enabled())
	assert.True(t, cfg.Telegram.SupportRelay)
	assert.Equal(t, "from-file", cfg.BuyerTokenSecret(), "falls back to the admin secret")

	t.Setenv("RELAY_BUYER_TOKEN_SECRET", "buyer-only")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "buyer-only", cfg.BuyerTokenSecret())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("RELAY_STORE_DRIVER", "postgres")
	t.Setenv("RELAY_LIFECYCLE_SWEEP_BATCH", "0")
	t.Setenv("RELAY_ADMIN_PASSWORD", "hunter2")
	t.Setenv("RELAY_TELEGRAM_SUPPORT_RELAY", "true")
	t.Setenv("RELAY_NOTIFY_WORKERS", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "sweep_batch")
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "support_relay")
	assert.Contains(t, err.Error(), "notify.workers")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
