package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	HTTP_PORT  string `koanf:"http_port"`
	DB_STRING  string `koanf:"db_string"`
	DB_MIGRATE bool   `koanf:"db_migrate"`

	KafkaBrokers         string        `koanf:"kafka_brokers"`
	KafkaTopic           string        `koanf:"kafka_topic"`
	KafkaGroupID         string        `koanf:"kafka_group_id"`
	KafkaMaxAttempts     int           `koanf:"kafka_max_attempts"`
	KafkaRetryBackoff    time.Duration `koanf:"kafka_retry_backoff"`
	KafkaDeadLetterTopic string        `koanf:"kafka_dead_letter_topic"`

	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	DedupTTL      time.Duration `koanf:"dedup_ttl"`

	JWTSecret string `koanf:"jwt_secret"`

	LogLevel string `koanf:"log_level"`
	LogFile  string `koanf:"log_file"`

	VNPayTmnCode    string `koanf:"vnpay_tmn_code"`
	VNPayHashSecret string `koanf:"vnpay_hash_secret"`
	VNPayPayURL     string `koanf:"vnpay_pay_url"`
	VNPayReturnURL  string `koanf:"vnpay_return_url"`

	MomoPartnerCode string `koanf:"momo_partner_code"`
	MomoAccessKey   string `koanf:"momo_access_key"`
	MomoSecretKey   string `koanf:"momo_secret_key"`
	MomoEndpoint    string `koanf:"momo_endpoint"`
	MomoRedirectURL string `koanf:"momo_redirect_url"`
	MomoIPNURL      string `koanf:"momo_ipn_url"`

	VietQRBankBin     string `koanf:"vietqr_bank_bin"`
	VietQRAccountNo   string `koanf:"vietqr_account_no"`
	VietQRAccountName string `koanf:"vietqr_account_name"`
	VietQRSecret      string `koanf:"vietqr_secret"`

	CarrierBaseURL      string `koanf:"carrier_base_url"`
	CarrierToken        string `koanf:"carrier_token"`
	CarrierShopID       string `koanf:"carrier_shop_id"`
	CarrierWebhookToken string `koanf:"carrier_webhook_token"`

	DefaultShippingFee int64         `koanf:"default_shipping_fee"`
	TaxRate            string        `koanf:"tax_rate"`
	MoneyPrecision     int32         `koanf:"money_precision"` // знаков после запятой, 0 для VND
	CheckoutTimeout    time.Duration `koanf:"checkout_timeout"`
	CheckoutMaxRetries int           `koanf:"checkout_max_retries"`
	StockExpiryDelay   time.Duration `koanf:"stock_expiry_delay"`
	WebhookMaxAge      time.Duration `koanf:"webhook_max_age"`

	OutboxInterval    time.Duration `koanf:"outbox_interval"`
	OutboxBatch       int           `koanf:"outbox_batch"`
	OutboxMaxAttempts int           `koanf:"outbox_max_attempts"`
	OutboxLease       time.Duration `koanf:"outbox_lease"`
	TaskWorkers       int           `koanf:"task_workers"`
}

// LoadConfig читает CONFIG_FILE (yaml, опционально), потом env поверх него.
// Ключи env: HTTP_PORT -> http_port и т.д.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP_PORT == "" {
		c.HTTP_PORT = "8080"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "order-events"
	}
	if c.KafkaGroupID == "" {
		c.KafkaGroupID = "order-notifications"
	}
	if c.KafkaMaxAttempts == 0 {
		c.KafkaMaxAttempts = 5
	}
	if c.KafkaRetryBackoff == 0 {
		c.KafkaRetryBackoff = 300 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DefaultShippingFee == 0 {
		c.DefaultShippingFee = 30000
	}
	if c.TaxRate == "" {
		c.TaxRate = "0"
	}
	if c.CheckoutTimeout == 0 {
		c.CheckoutTimeout = 10 * time.Second
	}
	if c.CheckoutMaxRetries == 0 {
		c.CheckoutMaxRetries = 3
	}
	if c.StockExpiryDelay == 0 {
		c.StockExpiryDelay = 15 * time.Minute
	}
	if c.WebhookMaxAge == 0 {
		c.WebhookMaxAge = 5 * time.Minute
	}
	if c.DedupTTL == 0 {
		c.DedupTTL = 24 * time.Hour
	}
	if c.OutboxInterval == 0 {
		c.OutboxInterval = time.Second
	}
	if c.OutboxBatch == 0 {
		c.OutboxBatch = 100
	}
	if c.OutboxMaxAttempts == 0 {
		c.OutboxMaxAttempts = 10
	}
	if c.OutboxLease == 0 {
		c.OutboxLease = 30 * time.Second
	}
	if c.TaskWorkers == 0 {
		c.TaskWorkers = 4
	}
}

func (c *Config) Validate() error {
	if c.DB_STRING == "" {
		return fmt.Errorf("DB_STRING required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET required")
	}
	if c.CheckoutMaxRetries < 1 {
		return fmt.Errorf("CHECKOUT_MAX_RETRIES must be >= 1")
	}
	if c.DefaultShippingFee < 0 {
		return fmt.Errorf("DEFAULT_SHIPPING_FEE must not be negative")
	}
	if c.MoneyPrecision < 0 || c.MoneyPrecision > 4 {
		return fmt.Errorf("MONEY_PRECISION must be between 0 and 4")
	}
	return nil
}
