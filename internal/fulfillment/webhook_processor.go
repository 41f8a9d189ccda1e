package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
	"github.com/josh-kwaku/commerce-ledger/internal/metrics"
)

const maxWebhookAttempts = 5

type webhookRepo interface {
	ClaimPending(ctx context.Context, limit int) ([]domain.WebhookEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus) error
}

type wpPaymentRepo interface {
	GetByGatewayID(ctx context.Context, provider domain.PaymentProvider, gatewayID string) (*domain.Payment, error)
}

type wpGateways interface {
	Get(kind domain.PaymentProvider) (gateway.Provider, error)
	WebhookParser(kind domain.PaymentProvider) (gateway.WebhookParser, error)
}

type paymentOutcomes interface {
	ConfirmPayment(ctx context.Context, orderID int64, v *gateway.Validation) (*domain.Order, error)
	FailPayment(ctx context.Context, orderID int64, reason string) (*domain.Order, error)
	Kick(ctx context.Context, orderID int64)
}

// WebhookProcessor drains the webhook inbox. A webhook is only a hint: the
// payment is re-validated with the gateway before the order moves.
type WebhookProcessor struct {
	webhooks webhookRepo
	payments wpPaymentRepo
	gateways wpGateways
	outcomes paymentOutcomes
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
}

func NewWebhookProcessor(
	webhooks webhookRepo,
	payments wpPaymentRepo,
	gateways wpGateways,
	outcomes paymentOutcomes,
	m *metrics.Metrics,
	logger *slog.Logger,
	interval time.Duration,
) *WebhookProcessor {
	return &WebhookProcessor{
		webhooks: webhooks,
		payments: payments,
		gateways: gateways,
		outcomes: outcomes,
		metrics:  m,
		logger:   logger,
		interval: interval,
	}
}

func (p *WebhookProcessor) Start(ctx context.Context) {
	p.logger.Info("webhook processor started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("webhook processor stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

func (p *WebhookProcessor) Poll(ctx context.Context) {
	events, err := p.webhooks.ClaimPending(ctx, 10)
	if err != nil {
		p.logger.Error("failed to fetch pending webhook events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error("failed to process webhook event",
				"webhook_event_id", event.ID,
				"attempts", event.Attempts,
				"error", err,
			)
			if event.Attempts >= maxWebhookAttempts {
				p.metrics.OperatorAlert("webhook_exhausted")
				p.logger.Error("operator alert: webhook event abandoned", "webhook_event_id", event.ID)
				if err := p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed); err != nil {
					p.logger.Error("failed to mark abandoned webhook event", "webhook_event_id", event.ID, "error", err)
				}
			}
		}
	}
}

// processEvent returns an error only when the event should be retried.
func (p *WebhookProcessor) processEvent(ctx context.Context, event domain.WebhookEvent) error {
	parser, err := p.gateways.WebhookParser(event.Provider)
	if err != nil {
		p.logger.Error("webhook from provider without webhooks", "webhook_event_id", event.ID, "provider", event.Provider)
		return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed)
	}
	notice, err := parser.ParseWebhook(event.Payload)
	if err != nil {
		p.logger.Error("malformed webhook payload", "webhook_event_id", event.ID, "error", err)
		return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed)
	}

	payment, err := p.payments.GetByGatewayID(ctx, event.Provider, notice.GatewayID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("payment not found for webhook", "webhook_event_id", event.ID, "gateway_id", notice.GatewayID)
			return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed)
		}
		return fmt.Errorf("processEvent: %w", err)
	}

	if payment.Status != domain.PaymentStatusPending {
		p.logger.Info("payment already settled, skipping",
			"webhook_event_id", event.ID,
			"payment_id", payment.ID,
			"payment_status", payment.Status,
		)
		return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusDispatched)
	}

	provider, err := p.gateways.Get(payment.Provider)
	if err != nil {
		return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed)
	}
	v, err := provider.ValidatePayment(ctx, payment)
	if err != nil {
		if domain.IsTransient(err) {
			return fmt.Errorf("processEvent: validate: %w", err)
		}
		p.logger.Error("payment validation rejected", "webhook_event_id", event.ID, "payment_id", payment.ID, "error", err)
		return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed)
	}

	switch {
	case v.Success:
		if _, err := p.outcomes.ConfirmPayment(ctx, payment.OrderID, v); err != nil {
			if errors.Is(err, domain.ErrIllegalTransition) {
				return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusDispatched)
			}
			return fmt.Errorf("processEvent: %w", err)
		}
		p.outcomes.Kick(ctx, payment.OrderID)
	case v.Status == domain.PaymentStatusFailed:
		reason := fmt.Sprintf("gateway reported %s", v.Status)
		if _, err := p.outcomes.FailPayment(ctx, payment.OrderID, reason); err != nil {
			if errors.Is(err, domain.ErrIllegalTransition) {
				return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusDispatched)
			}
			return fmt.Errorf("processEvent: %w", err)
		}
	default:
		p.logger.Info("payment still pending at gateway", "webhook_event_id", event.ID, "payment_id", payment.ID, "status", v.Status)
	}

	return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusDispatched)
}
