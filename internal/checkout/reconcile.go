package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

// Reconcile asks the gateway about an order still awaiting payment and
// forwards the answer to fulfillment. Orders whose gateway session was never
// created get a fresh attempt under the same idempotency key.
func (s *Service) Reconcile(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.Reconcile")
	defer span.End()

	o, err := s.Orders.GetByID(ctx, s.Reads, orderID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	if o.Status != domain.OrderStatusAwaitingPayment {
		return o, nil
	}
	log := logging.FromContext(ctx).With("order_id", o.ID)

	p, err := s.Payments.GetLatestForOrder(ctx, s.Reads, o.ID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	provider, err := s.Gateways.Get(p.Provider)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	if p.GatewayID == nil {
		customer, err := s.Customers.GetByID(ctx, o.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("Reconcile: %w", err)
		}
		pkg, err := s.Packages.GetByID(ctx, o.PackageID)
		if err != nil {
			return nil, fmt.Errorf("Reconcile: %w", err)
		}
		q := &quote{customer: customer, pkg: pkg, provider: p.Provider}
		if err := s.openSession(ctx, provider, o, p, s.checkoutRequest(o, p, q, Request{})); err != nil {
			if errors.Is(err, domain.ErrGateway) && !domain.IsTransient(err) {
				log.Error("gateway rejected checkout on reconcile", "error", err)
				failed, ferr := s.Lifecycle.FailPayment(ctx, o.ID, err.Error())
				if ferr != nil {
					return nil, fmt.Errorf("Reconcile: %w", ferr)
				}
				return failed, nil
			}
			return nil, fmt.Errorf("Reconcile: %w", err)
		}
		log.Info("gateway session created on reconcile", "payment_id", p.ID)
		return o, nil
	}

	v, err := provider.ValidatePayment(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	switch {
	case v.Success:
		confirmed, err := s.Lifecycle.ConfirmPayment(ctx, o.ID, v)
		if err != nil {
			return nil, fmt.Errorf("Reconcile: %w", err)
		}
		s.Lifecycle.Kick(ctx, o.ID)
		log.Info("payment confirmed on reconcile", "payment_id", p.ID)
		return confirmed, nil
	case v.Status == domain.PaymentStatusFailed || v.Status == domain.PaymentStatusCancelled:
		failed, err := s.Lifecycle.FailPayment(ctx, o.ID, fmt.Sprintf("gateway reported %s", v.Status))
		if err != nil {
			return nil, fmt.Errorf("Reconcile: %w", err)
		}
		log.Info("payment failed on reconcile", "payment_id", p.ID, "status", v.Status)
		return failed, nil
	default:
		return o, nil
	}
}

// Sweep reconciles orders that have been awaiting payment for longer than
// olderThan and returns how many it looked at.
func (s *Service) Sweep(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	ids, err := s.Orders.ListAwaitingPayment(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("Sweep: %w", err)
	}

	log := logging.FromContext(ctx)
	for _, id := range ids {
		if _, err := s.Reconcile(ctx, id); err != nil {
			log.Warn("reconcile failed", "order_id", id, "error", err)
		}
	}
	return len(ids), nil
}

// Sweeper runs Sweep on an interval.
type Sweeper struct {
	svc       *Service
	logger    *slog.Logger
	interval  time.Duration
	olderThan time.Duration
}

func NewSweeper(svc *Service, logger *slog.Logger, interval, olderThan time.Duration) *Sweeper {
	return &Sweeper{svc: svc, logger: logger, interval: interval, olderThan: olderThan}
}

func (w *Sweeper) Start(ctx context.Context) {
	w.logger.Info("payment sweeper started", "interval", w.interval, "older_than", w.olderThan)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("payment sweeper stopped")
			return
		case <-ticker.C:
			n, err := w.svc.Sweep(logging.WithLogger(ctx, w.logger), w.olderThan, 50)
			if err != nil {
				w.logger.Error("payment sweep failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.Info("payment sweep done", "orders", n)
			}
		}
	}
}
