package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EnvAndDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_PORT", "")
	require.NoError(t, os.Unsetenv("HTTP_PORT"))
	t.Setenv("DB_STRING", "postgres://localhost/orders")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CHECKOUT_TIMEOUT", "3s")
	t.Setenv("VNPAY_TMN_CODE", "TMN01")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.HTTP_PORT)
	require.Equal(t, "postgres://localhost/orders", cfg.DB_STRING)
	require.Equal(t, 3*time.Second, cfg.CheckoutTimeout)
	require.Equal(t, 3, cfg.CheckoutMaxRetries)
	require.Equal(t, 15*time.Minute, cfg.StockExpiryDelay)
	require.Equal(t, 5*time.Minute, cfg.WebhookMaxAge)
	require.Equal(t, int64(30000), cfg.DefaultShippingFee)
	require.Equal(t, "TMN01", cfg.VNPayTmnCode)
	require.Equal(t, int32(0), cfg.MoneyPrecision)
	require.Equal(t, 10, cfg.OutboxMaxAttempts)
	require.Equal(t, 30*time.Second, cfg.OutboxLease)
	require.Equal(t, 5, cfg.KafkaMaxAttempts)
}

func TestLoadConfig_MoneyPrecision(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DB_STRING", "postgres://localhost/orders")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MONEY_PRECISION", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, int32(2), cfg.MoneyPrecision)

	t.Setenv("MONEY_PRECISION", "9")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("http_port: \"9090\"\ndb_string: postgres://file/orders\njwt_secret: from-file\ncheckout_max_retries: 5\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DB_STRING", "")
	require.NoError(t, os.Unsetenv("DB_STRING"))
	t.Setenv("HTTP_PORT", "")
	require.NoError(t, os.Unsetenv("HTTP_PORT"))
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.HTTP_PORT)
	require.Equal(t, "from-env", cfg.JWTSecret)
	require.Equal(t, 5, cfg.CheckoutMaxRetries)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg.DB_STRING = "x"
	cfg.JWTSecret = "y"
	cfg.CheckoutMaxRetries = 1
	require.NoError(t, cfg.Validate())
}
