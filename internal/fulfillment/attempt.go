package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/provisioning"
)

const (
	codeProvisioningTransient = "provisioning_transient"
	codeProvisioningRejected  = "provisioning_rejected"
	codeRetriesExhausted      = "retries_exhausted"
)

// Attempt provisions a paid order. At most one attempt per order runs at a
// time: concurrent callers in this process share one result, and the
// claimed_until lease keeps other processes out. Finished orders are returned
// unchanged.
func (m *Machine) Attempt(ctx context.Context, orderID int64) (*domain.Order, error) {
	return m.attemptShared(ctx, orderID, false)
}

// AttemptClaimed is Attempt for an order the caller already leased through
// the retry queue.
func (m *Machine) AttemptClaimed(ctx context.Context, orderID int64) (*domain.Order, error) {
	return m.attemptShared(ctx, orderID, true)
}

// Kick starts an attempt in the background, detached from ctx's
// cancellation.
func (m *Machine) Kick(ctx context.Context, orderID int64) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if _, err := m.Attempt(ctx, orderID); err != nil && !errors.Is(err, domain.ErrAttemptInFlight) {
			logging.FromContext(ctx).Error("fulfillment attempt failed", "order_id", orderID, "error", err)
		}
	}()
}

func (m *Machine) attemptShared(ctx context.Context, orderID int64, claimed bool) (*domain.Order, error) {
	v, err, shared := m.flight.Do(strconv.FormatInt(orderID, 10), func() (any, error) {
		return m.attempt(ctx, orderID, claimed)
	})
	if shared {
		logging.FromContext(ctx).Debug("joined in-flight fulfillment attempt", "order_id", orderID)
	}
	if err != nil {
		return nil, err
	}
	return v.(*domain.Order), nil
}

func (m *Machine) attempt(ctx context.Context, orderID int64, claimed bool) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.Attempt")
	defer span.End()
	log := logging.FromContext(ctx).With("order_id", orderID)

	var order *domain.Order
	var proceed bool
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		proceed = false
		o, err := m.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = o
		now := m.now()

		switch o.Status {
		case domain.OrderStatusCompleted, domain.OrderStatusFailed, domain.OrderStatusCancelled:
			return nil
		case domain.OrderStatusPending, domain.OrderStatusAwaitingPayment:
			return fmt.Errorf("%w: order is %s", domain.ErrOrderNotRetryable, o.Status)
		case domain.OrderStatusPendingRetry:
			if !o.CanRetry() {
				return fmt.Errorf("%w: %d of %d retries used", domain.ErrOrderNotRetryable, o.RetryCount, o.MaxRetries)
			}
			if !claimed && o.NextRetryAt != nil && o.NextRetryAt.After(now) {
				return fmt.Errorf("%w: next retry at %s", domain.ErrOrderNotRetryable, o.NextRetryAt.Format("2006-01-02T15:04:05Z07:00"))
			}
		}
		if !claimed && o.ClaimedUntil != nil && o.ClaimedUntil.After(now) {
			return domain.ErrAttemptInFlight
		}

		until := now.Add(m.lease)
		o.ClaimedUntil = &until
		if o.Status == domain.OrderStatusPendingRetry {
			if err := m.transition(ctx, tx, o, domain.OrderStatusProcessing, ActorScheduler, domain.OrderEventTransitioned, nil); err != nil {
				return err
			}
		} else if err := m.orders.Update(ctx, tx, o); err != nil {
			return err
		}
		proceed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Attempt: claim: %w", err)
	}
	if !proceed {
		return order, nil
	}

	res, provErr := m.provisioner.Provision(ctx, provisioning.Request{
		OrderUUID:  order.UUID,
		PackageID:  order.PackageID,
		CustomerID: order.CustomerID,
	})

	err = m.db.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := m.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = o
		if o.Status != domain.OrderStatusProcessing {
			return nil
		}
		o.ClaimedUntil = nil

		if provErr == nil {
			o.ProviderReference = &res.Reference
			if res.ActivationCode != "" {
				o.ActivationCode = &res.ActivationCode
			}
			o.FailureReason = nil
			o.FailureCode = nil
			return m.transition(ctx, tx, o, domain.OrderStatusCompleted, ActorSystem, domain.OrderEventTransitioned,
				map[string]string{"reference": res.Reference})
		}
		return m.recordFailure(ctx, tx, o, provErr)
	})
	if err != nil {
		return nil, fmt.Errorf("Attempt: record outcome: %w", err)
	}

	switch order.Status {
	case domain.OrderStatusCompleted:
		m.metrics.FulfillmentAttempt("completed")
		log.Info("order fulfilled", "reference", *order.ProviderReference)
	case domain.OrderStatusPendingRetry:
		m.metrics.FulfillmentAttempt("retry")
		log.Warn("fulfillment attempt failed, retry scheduled",
			"retry_count", order.RetryCount,
			"next_retry_at", order.NextRetryAt,
			"error", provErr,
		)
	case domain.OrderStatusFailed:
		m.metrics.FulfillmentAttempt("failed")
		log.Error("order failed", "failure_code", *order.FailureCode, "error", provErr)
	}
	return order, nil
}

// recordFailure moves a processing order to pending_retry and, when the error
// is permanent or no retries remain, on to failed.
func (m *Machine) recordFailure(ctx context.Context, tx *sql.Tx, o *domain.Order, provErr error) error {
	transient := domain.IsTransient(provErr)
	if o.CanRetry() {
		o.RetryCount++
	}
	reason := provErr.Error()
	code := codeProvisioningTransient
	if !transient {
		code = codeProvisioningRejected
	}
	o.FailureReason = &reason
	o.FailureCode = &code
	next := m.policy.NextAt(m.now(), o.RetryCount)
	o.NextRetryAt = &next

	detail := map[string]string{"error": reason, "transient": strconv.FormatBool(transient)}
	if err := m.transition(ctx, tx, o, domain.OrderStatusPendingRetry, ActorSystem, domain.OrderEventAttemptFailed, detail); err != nil {
		return err
	}
	if transient && o.CanRetry() {
		return nil
	}

	if transient {
		code = codeRetriesExhausted
		o.FailureCode = &code
	}
	return m.transition(ctx, tx, o, domain.OrderStatusFailed, ActorSystem, domain.OrderEventTransitioned, map[string]string{"failure_code": code})
}
