// Package app builds the service graph shared by the API server, the
// operator CLI and integration tests.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/commerce-ledger/internal/checkout"
	"github.com/josh-kwaku/commerce-ledger/internal/config"
	"github.com/josh-kwaku/commerce-ledger/internal/coupon"
	"github.com/josh-kwaku/commerce-ledger/internal/fulfillment"
	"github.com/josh-kwaku/commerce-ledger/internal/fx"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
	"github.com/josh-kwaku/commerce-ledger/internal/invoice"
	"github.com/josh-kwaku/commerce-ledger/internal/ledger"
	"github.com/josh-kwaku/commerce-ledger/internal/metrics"
	"github.com/josh-kwaku/commerce-ledger/internal/notification"
	"github.com/josh-kwaku/commerce-ledger/internal/provisioning"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
	"github.com/josh-kwaku/commerce-ledger/internal/retry"
)

const coverageCacheSize = 512

// Options are the seams callers may replace. Zero values fall back to the
// production collaborators built from Config.
type Options struct {
	Config      *config.Config
	Pool        *sql.DB
	Logger      *slog.Logger
	Registerer  prometheus.Registerer
	Provisioner fulfillment.Provisioner
	Providers   []gateway.Provider
	RateSource  fx.Source
	Sender      notification.Sender
}

type Repositories struct {
	Users         *repository.UserRepository
	Customers     *repository.CustomerRepository
	Balances      *repository.BalanceRepository
	Packages      *repository.PackageRepository
	Countries     *repository.CountryRepository
	Coupons       *repository.CouponRepository
	Orders        *repository.OrderRepository
	OrderEvents   *repository.OrderEventRepository
	Payments      *repository.PaymentRepository
	Invoices      *repository.InvoiceRepository
	Notifications *repository.NotificationRepository
	Webhooks      *repository.WebhookEventRepository
	Idempotency   *repository.IdempotencyRepository
}

type App struct {
	Config  *config.Config
	Pool    *sql.DB
	DB      *repository.DB
	Repos   Repositories
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	Ledger     *ledger.Ledger
	Coupons    *coupon.Engine
	Invoices   *invoice.Service
	Gateways   *gateway.Registry
	Queue      *notification.Queue
	Dispatcher *notification.Dispatcher
	Machine    *fulfillment.Machine
	Scheduler  *fulfillment.Scheduler
	Replayer   *fulfillment.Replayer
	Webhooks   *fulfillment.WebhookProcessor
	Checkout   *checkout.Service
	Sweeper    *checkout.Sweeper
	Rates      *fx.RateService
}

func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("app.New: config required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}

	a := &App{Config: cfg, Pool: opts.Pool, Logger: opts.Logger}
	a.Metrics = metrics.MustNew(opts.Registerer)
	a.DB = repository.NewDB(opts.Pool, repository.TxOptions{
		LockTimeout: cfg.TxLockTimeout,
		MaxRetries:  cfg.TxMaxRetries,
		OnConflict:  a.Metrics.TxConflictRetry,
	})
	a.Repos = newRepositories(opts.Pool)
	r := a.Repos

	a.Invoices = invoice.NewService(
		invoice.NewSequencer(r.Invoices),
		r.Invoices, r.Packages, r.Customers,
		invoice.NewTextRenderer(),
		cfg.InvoiceSellerName,
		a.Metrics,
	)
	a.Ledger = ledger.New(r.Balances, a.DB, a.Invoices, a.Metrics)

	coverage, err := coupon.NewCoverageResolver(r.Countries, coverageCacheSize)
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}
	a.Coupons = coupon.NewEngine(r.Coupons, r.Orders, coverage, opts.Pool)

	balance := gateway.NewBalanceProvider(a.Ledger, r.Orders, a.DB)
	if len(opts.Providers) > 0 {
		a.Gateways = gateway.NewStaticRegistry(append([]gateway.Provider{balance}, opts.Providers...)...)
	} else {
		a.Gateways, err = gateway.NewRegistry(gateway.RegistryConfig{
			Card: gateway.HostedConfig{BaseURL: cfg.Gateway.CardURL, APIKey: cfg.Gateway.CardAPIKey, Timeout: cfg.Gateway.Timeout},
			Bank: gateway.HostedConfig{BaseURL: cfg.Gateway.BankURL, APIKey: cfg.Gateway.BankAPIKey, Timeout: cfg.Gateway.Timeout},
		}, balance)
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
	}

	sender := opts.Sender
	if sender == nil {
		sender = notification.LogSender{}
	}
	a.Queue = notification.NewQueue(r.Notifications, cfg.Notify.MaxAttempts)
	a.Dispatcher = notification.NewDispatcher(r.Notifications, sender, retry.Policy{
		Base:        cfg.Notify.BaseDelay,
		Cap:         cfg.Notify.MaxDelay,
		MaxAttempts: cfg.Notify.MaxAttempts,
	}, a.Metrics, opts.Logger.With("worker", "notifications"), cfg.Notify.Interval)

	provisioner := opts.Provisioner
	if provisioner == nil {
		provisioner = provisioning.NewClient(cfg.Provisioning.URL, cfg.Provisioning.APIKey, cfg.Provisioning.Timeout)
	}
	refunds := fulfillment.NewRefunder(balance, a.Gateways)
	executor := fulfillment.NewLiveExecutor(a.Invoices, a.Queue, a.Coupons, r.Packages, r.Customers, r.Payments, refunds, a.Metrics)
	a.Machine = fulfillment.NewMachine(
		a.DB, r.Orders, r.OrderEvents, r.Payments, executor, refunds, provisioner,
		retry.Policy{
			Base:        cfg.Fulfillment.RetryBaseDelay,
			Cap:         cfg.Fulfillment.RetryMaxDelay,
			MaxAttempts: cfg.Fulfillment.MaxRetries,
		},
		cfg.Fulfillment.AttemptLease,
		a.Metrics,
	)
	a.Scheduler = fulfillment.NewScheduler(r.Orders, a.Machine, opts.Logger.With("worker", "scheduler"), cfg.Fulfillment.SchedulerInterval, cfg.Fulfillment.AttemptLease)
	a.Replayer = fulfillment.NewReplayer(a.DB, r.Orders, r.OrderEvents, executor)
	a.Webhooks = fulfillment.NewWebhookProcessor(r.Webhooks, r.Payments, a.Gateways, a.Machine, a.Metrics, opts.Logger.With("worker", "webhooks"), 5*time.Second)

	source := opts.RateSource
	if source == nil {
		if cfg.FXRatesURL != "" {
			source = fx.NewHTTPSource(cfg.FXRatesURL, cfg.Gateway.Timeout)
		} else {
			source = fx.DefaultRates
		}
	}
	a.Rates = fx.NewRateService(cfg.SettlementCurrency, source, opts.Logger.With("worker", "fx"))

	a.Checkout = checkout.NewService(checkout.Deps{
		DB:        a.DB,
		Reads:     opts.Pool,
		Customers: r.Customers,
		Users:     r.Users,
		Packages:  r.Packages,
		Orders:    r.Orders,
		Payments:  r.Payments,
		Ledger:    a.Ledger,
		Coupons:   a.Coupons,
		Lifecycle: a.Machine,
		Gateways:  a.Gateways,
		Rates:     a.Rates,
		Metrics:   a.Metrics,
	}, checkout.Config{
		Currency:       cfg.SettlementCurrency,
		GatewayTimeout: cfg.Gateway.Timeout,
		GatewayRetries: cfg.Gateway.MaxRetries,
		ReturnURL:      cfg.Gateway.ReturnURL,
		MaxRetries:     cfg.Fulfillment.MaxRetries,
	})
	a.Sweeper = checkout.NewSweeper(a.Checkout, opts.Logger.With("worker", "sweeper"), cfg.Gateway.ReconcileAfter, cfg.Gateway.ReconcileAfter)

	return a, nil
}

func newRepositories(pool *sql.DB) Repositories {
	return Repositories{
		Users:         repository.NewUserRepository(pool),
		Customers:     repository.NewCustomerRepository(pool),
		Balances:      repository.NewBalanceRepository(pool),
		Packages:      repository.NewPackageRepository(pool),
		Countries:     repository.NewCountryRepository(pool),
		Coupons:       repository.NewCouponRepository(pool),
		Orders:        repository.NewOrderRepository(pool),
		OrderEvents:   repository.NewOrderEventRepository(pool),
		Payments:      repository.NewPaymentRepository(pool),
		Invoices:      repository.NewInvoiceRepository(pool),
		Notifications: repository.NewNotificationRepository(pool),
		Webhooks:      repository.NewWebhookEventRepository(pool),
		Idempotency:   repository.NewIdempotencyRepository(pool),
	}
}

// RunWorkers starts the background loops and blocks until ctx is done.
func (a *App) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	workers := []func(context.Context){
		a.Dispatcher.Start,
		a.Scheduler.Run,
		a.Webhooks.Start,
		a.Sweeper.Start,
		func(ctx context.Context) { a.Rates.Start(ctx, a.Config.FXRefreshInterval) },
		a.cleanIdempotency,
	}
	for _, w := range workers {
		g.Go(func() error {
			w(ctx)
			return nil
		})
	}
	return g.Wait()
}

const idempotencyCleanInterval = time.Hour

func (a *App) cleanIdempotency(ctx context.Context) {
	logger := a.Logger.With("worker", "idempotency_janitor")
	ticker := time.NewTicker(idempotencyCleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Repos.Idempotency.CleanExpired(ctx)
			if err != nil {
				logger.Error("failed to clean idempotency cache", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired idempotency entries removed", "count", n)
			}
		}
	}
}
