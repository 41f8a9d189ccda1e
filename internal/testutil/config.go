package testutil

import (
	"time"

	"github.com/josh-kwaku/commerce-ledger/internal/config"
	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

// TestConfig returns a configuration with short delays and no external
// endpoints. Tests inject gateways and the provisioner themselves.
func TestConfig() *config.Config {
	return &config.Config{
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		AppEnv:             "development",
		SettlementCurrency: domain.SettlementCurrency,
		TxLockTimeout:      5 * time.Second,
		TxMaxRetries:       5,
		Gateway: config.GatewayConfig{
			Timeout:        2 * time.Second,
			MaxRetries:     1,
			WebhookSecret:  "whsec-test",
			ReturnURL:      "https://shop.test/return",
			ReconcileAfter: time.Minute,
		},
		Fulfillment: config.FulfillmentConfig{
			MaxRetries:        3,
			RetryBaseDelay:    time.Millisecond,
			RetryMaxDelay:     10 * time.Millisecond,
			SchedulerInterval: 50 * time.Millisecond,
			AttemptLease:      time.Minute,
		},
		Notify: config.NotifyConfig{
			MaxAttempts: 3,
			Interval:    50 * time.Millisecond,
			BaseDelay:   time.Millisecond,
			MaxDelay:    10 * time.Millisecond,
		},
		FXRefreshInterval: time.Minute,
		InvoiceSellerName: "Commerce Ledger Test Ltd.",
	}
}
