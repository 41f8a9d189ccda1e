// Package server assembles the HTTP surface: routes, middleware chain and
// the operational endpoints.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/commerce-ledger/internal/app"
	"github.com/josh-kwaku/commerce-ledger/internal/handler"
	"github.com/josh-kwaku/commerce-ledger/internal/middleware"
)

type Options struct {
	Version  string
	Gatherer prometheus.Gatherer
}

// New returns the root handler. Order of the outer chain: recovery, otel
// span, request id, request logging.
func New(a *app.App, opts Options) http.Handler {
	cfg := a.Config
	authed := middleware.Auth(cfg.JWTSecret)
	idem := middleware.Idempotency(a.Repos.Idempotency)

	protect := func(h http.HandlerFunc) http.Handler { return authed(h) }
	protectIdem := func(h http.HandlerFunc) http.Handler { return authed(idem(h)) }

	health := handler.NewHealthHandler(a.Pool, a.Rates, 3*cfg.FXRefreshInterval, opts.Version)
	login := handler.NewAuthHandler(a.Repos.Users, a.Repos.Customers, cfg.JWTSecret, cfg.JWTExpiry)
	checkouts := handler.NewCheckoutHandler(a.Checkout)
	orders := handler.NewOrderHandler(a.Repos.Orders, a.Invoices, a.Checkout, a.Pool)
	balances := handler.NewBalanceHandler(a.Ledger)
	rates := handler.NewFXHandler(a.Rates)
	webhooks := handler.NewWebhookHandler(a.Repos.Webhooks, a.Gateways, cfg.Gateway.WebhookSecret)
	receipts := handler.NewNotificationHandler(a.Dispatcher, cfg.Gateway.WebhookSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Liveness)
	mux.HandleFunc("GET /ready", health.Readiness)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/v1/auth/login", login.Login)
	mux.Handle("POST /api/v1/checkout", protectIdem(checkouts.Create))
	mux.Handle("POST /api/v1/checkout/guest", idem(http.HandlerFunc(checkouts.CreateGuest)))
	mux.Handle("POST /api/v1/coupons/validate", protect(checkouts.ValidateCoupon))

	mux.Handle("GET /api/v1/orders/{id}", protect(orders.Get))
	mux.Handle("GET /api/v1/orders/{id}/invoice", protect(orders.Invoice))
	mux.Handle("POST /api/v1/orders/{id}/reconcile", protect(orders.Reconcile))

	mux.Handle("GET /api/v1/balance", protect(balances.Get))
	mux.Handle("GET /api/v1/balance/transactions", protect(balances.Transactions))
	mux.HandleFunc("GET /api/v1/fx/rates", rates.GetRate)

	mux.HandleFunc("POST /api/v1/webhooks/{provider}", webhooks.Receive)
	mux.HandleFunc("POST /api/v1/notifications/{id}/receipt", receipts.Receipt)

	var h http.Handler = mux
	h = middleware.Logging(h)
	h = middleware.RequestID(h)
	h = otelhttp.NewHandler(h, "commerce-api", otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return r.Method + " " + r.URL.Path
	}))
	return middleware.Recovery(h)
}
