package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (MART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (MART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Kafka        KafkaConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig points at the shared Redis. Without it the buyer lock, the
// applied coupon and the rate limiter are local to the process.
type RedisConfig struct {
	URL string `usage:"Redis URL (MART_REDIS_URL or REDIS_URL)" flag:"redis-url"`
}

// KafkaConfig enables the outbox publisher when Brokers is set.
type KafkaConfig struct {
	Brokers      []string      `usage:"Kafka broker addresses"`
	Topic        string        `default:"marketplace.orders" usage:"Topic for order events"`
	PollInterval time.Duration `default:"1s" usage:"Outbox poll interval" flag:"outbox-poll-interval"`
	BatchSize    int           `default:"100" usage:"Events published per poll" flag:"outbox-batch-size"`
	MaxBacklog   int           `default:"10000" usage:"Unpublished events tolerated before the health check fails" flag:"outbox-max-backlog"`
}

// CheckoutConfig tunes pricing and settlement.
type CheckoutConfig struct {
	DeliveryFee      string        `default:"500" usage:"Flat delivery fee per seller order, in Naira" flag:"delivery-fee"`
	LockTTL          time.Duration `default:"30s" usage:"Per-buyer checkout lock lifetime" flag:"checkout-lock-ttl"`
	StaleAfter       time.Duration `default:"2m" usage:"Age after which an unfinished checkout attempt may be retried" flag:"checkout-stale-after"`
	AppliedCouponTTL time.Duration `default:"24h" usage:"How long an applied coupon is remembered" flag:"applied-coupon-ttl"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then applies platform defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "MART",
		Files:     []string{"config.yaml", "/etc/mart/config.yaml"},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	ac.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}

	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided variables such as
// DATABASE_URL, REDIS_URL and PORT onto the MART_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set MART_DATABASE_URL or DATABASE_URL")
	}
	fee, err := c.Checkout.deliveryFee()
	if err != nil {
		return err
	}
	if fee.IsNegative() {
		return errors.Errorf("delivery fee %s is negative", fee)
	}
	return nil
}

func (c CheckoutConfig) deliveryFee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(c.DeliveryFee)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse delivery fee %q", c.DeliveryFee)
	}
	return fee, nil
}
