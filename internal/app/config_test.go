package app

import (
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoad() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "MART",
		SkipFiles: true,
		SkipFlags: true,
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("MART_DATABASE_URL", "postgres://localhost/mart")

	cfg, err := testLoad()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.Checkout.LockTTL)
	assert.Equal(t, 2*time.Minute, cfg.Checkout.StaleAfter)
	assert.Equal(t, 24*time.Hour, cfg.Checkout.AppliedCouponTTL)
	assert.Equal(t, "marketplace.orders", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 100, cfg.RateLimit.Max)

	fee, err := cfg.Checkout.deliveryFee()
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromInt(500)))
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/mart")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	cfg, err := testLoad()
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/mart", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.Redis.URL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestLoadConfig_PrefixedWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/mart")
	t.Setenv("MART_DATABASE_URL", "postgres://explicit/mart")
	t.Setenv("MART_ADDR", "127.0.0.1:7000")
	t.Setenv("PORT", "9000")

	cfg, err := testLoad()
	require.NoError(t, err)
	assert.Equal(t, "postgres://explicit/mart", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("missing database", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		_, err := testLoad()
		require.ErrorContains(t, err, "database URL is required")
	})
	t.Run("bad fee", func(t *testing.T) {
		t.Setenv("MART_DATABASE_URL", "postgres://localhost/mart")
		t.Setenv("MART_CHECKOUT_DELIVERY_FEE", "five hundred")
		_, err := testLoad()
		require.ErrorContains(t, err, "parse delivery fee")
	})
	t.Run("negative fee", func(t *testing.T) {
		t.Setenv("MART_DATABASE_URL", "postgres://localhost/mart")
		t.Setenv("MART_CHECKOUT_DELIVERY_FEE", "-1")
		_, err := testLoad()
		require.ErrorContains(t, err, "negative")
	})
}
