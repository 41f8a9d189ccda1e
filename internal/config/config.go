package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string        `env:"DATABASE_URL,required"`
	JWTSecret   string        `env:"JWT_SECRET,required"`
	JWTExpiry   time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
	Port        int           `env:"PORT" envDefault:"8080"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string        `env:"APP_ENV" envDefault:"production"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`

	SettlementCurrency string        `env:"SETTLEMENT_CURRENCY" envDefault:"EUR"`
	TxLockTimeout      time.Duration `env:"TX_LOCK_TIMEOUT" envDefault:"3s"`
	TxMaxRetries       int           `env:"TX_MAX_RETRIES" envDefault:"3"`

	Gateway      GatewayConfig
	Provisioning ProvisioningConfig
	Fulfillment  FulfillmentConfig
	Notify       NotifyConfig

	FXRefreshInterval time.Duration `env:"FX_REFRESH_INTERVAL" envDefault:"10m"`
	FXRatesURL        string        `env:"FX_RATES_URL" envDefault:"http://mock-provider:8081/rates"`
	InvoiceSellerName string        `env:"INVOICE_SELLER_NAME" envDefault:"Commerce Ledger Ltd."`
}

type GatewayConfig struct {
	Timeout        time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	MaxRetries     int           `env:"GATEWAY_MAX_RETRIES" envDefault:"2"`
	CardURL        string        `env:"CARD_GATEWAY_URL" envDefault:"http://mock-provider:8081/card"`
	CardAPIKey     string        `env:"CARD_GATEWAY_API_KEY"`
	BankURL        string        `env:"BANK_GATEWAY_URL" envDefault:"http://mock-provider:8081/bank"`
	BankAPIKey     string        `env:"BANK_GATEWAY_API_KEY"`
	WebhookSecret  string        `env:"WEBHOOK_SECRET,required"`
	ReturnURL      string        `env:"CHECKOUT_RETURN_URL" envDefault:"http://localhost:3000/checkout/return"`
	ReconcileAfter time.Duration `env:"RECONCILE_AFTER" envDefault:"5m"`
}

type ProvisioningConfig struct {
	URL     string        `env:"PROVISIONING_URL" envDefault:"http://mock-provider:8081/provision"`
	APIKey  string        `env:"PROVISIONING_API_KEY"`
	Timeout time.Duration `env:"PROVISIONING_TIMEOUT" envDefault:"15s"`
}

type FulfillmentConfig struct {
	MaxRetries        int           `env:"ORDER_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay    time.Duration `env:"RETRY_BASE_DELAY" envDefault:"30s"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30m"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"10s"`
	AttemptLease      time.Duration `env:"ATTEMPT_LEASE" envDefault:"2m"`
}

type NotifyConfig struct {
	MaxAttempts int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"5"`
	Interval    time.Duration `env:"NOTIFY_INTERVAL" envDefault:"5s"`
	BaseDelay   time.Duration `env:"NOTIFY_BASE_DELAY" envDefault:"30s"`
	MaxDelay    time.Duration `env:"NOTIFY_MAX_DELAY" envDefault:"1h"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.Fulfillment.MaxRetries < 0 {
		return nil, fmt.Errorf("config.Load: ORDER_MAX_RETRIES must be >= 0")
	}
	return &cfg, nil
}
