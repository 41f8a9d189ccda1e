package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/metrics"
	"github.com/josh-kwaku/commerce-ledger/internal/retry"
)

// Sender delivers one message. A nil error means the transport accepted it;
// delivery receipts arrive later through ReportOutcome.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

type dispatchStore interface {
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Notification, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, attempts int, nextAttemptAt time.Time, lastError *string) error
}

type Dispatcher struct {
	store     dispatchStore
	sender    Sender
	policy    retry.Policy
	metrics   *metrics.Metrics
	logger    *slog.Logger
	interval  time.Duration
	lease     time.Duration
	batchSize int
	now       func() time.Time
}

func NewDispatcher(store dispatchStore, sender Sender, policy retry.Policy, m *metrics.Metrics, logger *slog.Logger, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		store:     store,
		sender:    sender,
		policy:    policy,
		metrics:   m,
		logger:    logger,
		interval:  interval,
		lease:     time.Minute,
		batchSize: 20,
		now:       time.Now,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("notification dispatcher started", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.DispatchDue(ctx); err != nil {
				d.logger.Error("failed to dispatch notifications", "error", err)
			}
		}
	}
}

// DispatchDue sends every claimed message once and returns how many were
// accepted by the sender.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	due, err := d.store.ClaimDue(ctx, d.now().UTC(), d.lease, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("DispatchDue: %w", err)
	}

	sent := 0
	for _, n := range due {
		ok, err := d.dispatch(ctx, n)
		if err != nil {
			d.logger.Error("failed to record notification attempt", "notification_id", n.ID, "error", err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, n domain.Notification) (bool, error) {
	attempts := n.Attempts + 1
	now := d.now().UTC()

	sendErr := d.sender.Send(ctx, n)
	if sendErr == nil {
		d.metrics.Notification(n.Template, "sent")
		d.logger.Info("notification sent", "notification_id", n.ID, "template", n.Template, "attempt", attempts)
		return true, d.store.RecordAttempt(ctx, n.ID, domain.NotificationSent, attempts, now, nil)
	}

	d.logger.Warn("notification send failed",
		"notification_id", n.ID,
		"template", n.Template,
		"attempt", attempts,
		"error", sendErr,
	)
	return false, d.fail(ctx, &n, attempts, sendErr.Error())
}

// ReportOutcome applies an asynchronous delivery receipt. A failed receipt
// is retried like a failed send until the attempts run out.
func (d *Dispatcher) ReportOutcome(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, reason string) error {
	n, err := d.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ReportOutcome: %w", err)
	}

	switch status {
	case domain.NotificationDelivered:
		d.metrics.Notification(n.Template, "delivered")
		if err := d.store.RecordAttempt(ctx, n.ID, domain.NotificationDelivered, n.Attempts, n.NextAttemptAt, nil); err != nil {
			return fmt.Errorf("ReportOutcome: %w", err)
		}
		return nil
	case domain.NotificationFailed:
		if n.Status == domain.NotificationFailed || n.Status == domain.NotificationDelivered {
			return nil
		}
		if err := d.fail(ctx, n, n.Attempts, reason); err != nil {
			return fmt.Errorf("ReportOutcome: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("ReportOutcome: %w: outcome must be delivered or failed, got %q", domain.ErrValidation, status)
	}
}

func (d *Dispatcher) fail(ctx context.Context, n *domain.Notification, attempts int, reason string) error {
	policy := d.policy
	if n.MaxAttempts > 0 {
		policy.MaxAttempts = n.MaxAttempts
	}
	now := d.now().UTC()

	if policy.Exhausted(attempts) {
		d.metrics.Notification(n.Template, "failed")
		d.metrics.OperatorAlert("notification_exhausted")
		d.logger.Error("operator alert: notification undeliverable",
			"notification_id", n.ID,
			"template", n.Template,
			"recipient", n.Recipient,
			"attempts", attempts,
			"error", reason,
		)
		return d.store.RecordAttempt(ctx, n.ID, domain.NotificationFailed, attempts, now, &reason)
	}

	d.metrics.Notification(n.Template, "retry")
	return d.store.RecordAttempt(ctx, n.ID, domain.NotificationQueued, attempts, policy.NextAt(now, attempts), &reason)
}
