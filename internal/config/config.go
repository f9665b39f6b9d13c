package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override: lifecycle.sweep_interval is read
// from RELAY_LIFECYCLE_SWEEP_INTERVAL.
const EnvPrefix = "RELAY"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Payout    PayoutConfig    `mapstructure:"payout"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Buyer     BuyerConfig     `mapstructure:"buyer"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig: an empty Addr keeps locks and idempotency keys in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig: no brokers disables both the event producer and the payment consumer.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	EventsTopic   string   `mapstructure:"events_topic"`
	PaymentsTopic string   `mapstructure:"payments_topic"`
	GroupID       string   `mapstructure:"group_id"`
}

type TelegramConfig struct {
	Token       string `mapstructure:"token"`
	ChatID      int64  `mapstructure:"chat_id"`
	BuyerChatID int64  `mapstructure:"buyer_chat_id"`
	// SupportRelay forwards customer messages to ChatID and routes replies back.
	SupportRelay bool `mapstructure:"support_relay"`
}

// NotifyConfig sizes the worker pool that delivers notifications off the request path.
type NotifyConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// PayoutConfig: an empty URL logs releases instead of calling a provider.
type PayoutConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LifecycleConfig struct {
	AutoConfirmWindow time.Duration `mapstructure:"auto_confirm_window"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	SweepBatch        int           `mapstructure:"sweep_batch"`
	ReleaseLockTTL    time.Duration `mapstructure:"release_lock_ttl"`
	Categories        []string      `mapstructure:"categories"`
}

type AdminConfig struct {
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	PasswordHash string        `mapstructure:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// Enabled reports whether admin routes should be mounted.
func (a AdminConfig) Enabled() bool {
	return a.Username != "" && (a.Password != "" || a.PasswordHash != "")
}

// BuyerConfig: an empty TokenSecret falls back to admin.jwt_secret; with neither set the
// confirm endpoint accepts any caller.
type BuyerConfig struct {
	TokenSecret string `mapstructure:"token_secret"`
}

// BuyerTokenSecret returns the key buyer tokens are signed with.
func (c *Config) BuyerTokenSecret() string {
	if c.Buyer.TokenSecret != "" {
		return c.Buyer.TokenSecret
	}
	return c.Admin.JWTSecret
}

type WebhookConfig struct {
	NowPaymentsIPNSecret string  `mapstructure:"nowpayments_ipn_secret"`
	RateRPS              float64 `mapstructure:"rate_rps"`
	RateBurst            int     `mapstructure:"rate_burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", "file:escrow.db?_busy_timeout=5000&_journal_mode=WAL")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.events_topic", "order.events")
	v.SetDefault("kafka.payments_topic", "payment.paid")
	v.SetDefault("kafka.group_id", "escrow-relay")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.buyer_chat_id", 0)
	v.SetDefault("telegram.support_relay", false)

	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.send_timeout", 10*time.Second)

	v.SetDefault("payout.url", "")
	v.SetDefault("payout.token", "")
	v.SetDefault("payout.timeout", 10*time.Second)

	v.SetDefault("lifecycle.auto_confirm_window", 24*time.Hour)
	v.SetDefault("lifecycle.sweep_interval", time.Minute)
	v.SetDefault("lifecycle.sweep_batch", 100)
	v.SetDefault("lifecycle.release_lock_ttl", time.Minute)
	v.SetDefault("lifecycle.categories", []string{"minecraft", "roblox"})

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.token_ttl", 2*time.Hour)

	v.SetDefault("buyer.token_secret", "")

	v.SetDefault("webhook.nowpayments_ipn_secret", "")
	v.SetDefault("webhook.rate_rps", 5)
	v.SetDefault("webhook.rate_burst", 10)
}

// Load reads defaults, then the optional YAML file at path, then RELAY_* environment
// variables, each overriding the previous.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "mysql", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be mysql or sqlite3, got %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Lifecycle.AutoConfirmWindow <= 0 {
		errs = append(errs, errors.New("lifecycle.auto_confirm_window must be positive"))
	}
	if c.Lifecycle.SweepInterval <= 0 {
		errs = append(errs, errors.New("lifecycle.sweep_interval must be positive"))
	}
	if c.Lifecycle.SweepBatch <= 0 {
		errs = append(errs, errors.New("lifecycle.sweep_batch must be positive"))
	}
	if c.Lifecycle.ReleaseLockTTL <= 0 {
		errs = append(errs, errors.New("lifecycle.release_lock_ttl must be positive"))
	}
	if c.Admin.Enabled() && c.Admin.JWTSecret == "" {
		errs = append(errs, errors.New("admin.jwt_secret is required when admin credentials are set"))
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when telegram.token is set"))
	}
	if c.Telegram.SupportRelay && c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.support_relay requires telegram.token"))
	}
	if c.Notify.Workers <= 0 || c.Notify.QueueSize <= 0 || c.Notify.SendTimeout <= 0 {
		errs = append(errs, errors.New("notify.workers, notify.queue_size and notify.send_timeout must be positive"))
	}
	if c.Webhook.RateRPS < 0 || c.Webhook.RateBurst < 0 {
		errs = append(errs, errors.New("webhook rate limits must not be negative"))
	}
	return errors.Join(errs...)
}
