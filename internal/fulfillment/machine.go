// Package fulfillment owns the order lifecycle: legal status transitions,
// the side effects they trigger, provisioning attempts with retries and
// rebuilding orders from their event log.
package fulfillment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/metrics"
	"github.com/josh-kwaku/commerce-ledger/internal/provisioning"
	"github.com/josh-kwaku/commerce-ledger/internal/retry"
)

var tracer = otel.Tracer("github.com/josh-kwaku/commerce-ledger/internal/fulfillment")

const (
	ActorSystem    = "system"
	ActorCheckout  = "checkout"
	ActorGateway   = "gateway"
	ActorScheduler = "scheduler"
	ActorOperator  = "operator"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type orderStore interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Order, error)
	Update(ctx context.Context, tx *sql.Tx, o *domain.Order) error
}

type eventStore interface {
	Append(ctx context.Context, tx *sql.Tx, e *domain.OrderEvent) error
	ListByOrder(ctx context.Context, orderID int64) ([]domain.OrderEvent, error)
}

type Provisioner interface {
	Provision(ctx context.Context, req provisioning.Request) (*provisioning.Result, error)
}

// eventPayload is stored with every order event. The snapshot is the order
// state after the event and is all replay needs.
type eventPayload struct {
	Snapshot domain.OrderSnapshot `json:"snapshot"`
	Effects  []Effect             `json:"effects,omitempty"`
	Detail   map[string]string    `json:"detail,omitempty"`
}

type Machine struct {
	db          txRunner
	orders      orderStore
	events      eventStore
	payments    paymentStore
	executor    Executor
	refunds     refunder
	provisioner Provisioner
	policy      retry.Policy
	lease       time.Duration
	metrics     *metrics.Metrics

	flight singleflight.Group
	now    func() time.Time
}

func NewMachine(
	db txRunner,
	orders orderStore,
	events eventStore,
	payments paymentStore,
	executor Executor,
	refunds refunder,
	provisioner Provisioner,
	policy retry.Policy,
	lease time.Duration,
	m *metrics.Metrics,
) *Machine {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Machine{
		db:          db,
		orders:      orders,
		events:      events,
		payments:    payments,
		executor:    executor,
		refunds:     refunds,
		provisioner: provisioner,
		policy:      policy,
		lease:       lease,
		metrics:     m,
		now:         dbNow,
	}
}

// dbNow is truncated to the precision Postgres stores so snapshots and rows
// compare equal after a round trip.
func dbNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Created writes the first event of a new order's log.
func (m *Machine) Created(ctx context.Context, tx *sql.Tx, o *domain.Order, actor string) error {
	if err := m.appendEvent(ctx, tx, o, domain.OrderEventCreated, nil, actor, nil, nil); err != nil {
		return fmt.Errorf("Created: %w", err)
	}
	return nil
}

// Transition moves o to the next status inside tx, runs the effects the move
// calls for, persists the order and appends an event.
func (m *Machine) Transition(ctx context.Context, tx *sql.Tx, o *domain.Order, to domain.OrderStatus, actor string) error {
	if err := m.transition(ctx, tx, o, to, actor, domain.OrderEventTransitioned, nil); err != nil {
		return fmt.Errorf("Transition: %w", err)
	}
	return nil
}

func (m *Machine) transition(ctx context.Context, tx *sql.Tx, o *domain.Order, to domain.OrderStatus, actor string, evType domain.OrderEventType, detail map[string]string) error {
	from := o.Status
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}

	now := m.now()
	o.Status = to
	o.UpdatedAt = now
	if to == domain.OrderStatusCompleted {
		o.CompletedAt = &now
	}
	if to.IsTerminal() {
		o.ClaimedUntil = nil
		o.NextRetryAt = nil
	}

	effects := EffectsFor(o, from, to)
	if err := m.executor.Execute(ctx, tx, o, effects); err != nil {
		return err
	}
	if err := m.orders.Update(ctx, tx, o); err != nil {
		return err
	}
	if err := m.appendEvent(ctx, tx, o, evType, &from, actor, effects, detail); err != nil {
		return err
	}

	m.metrics.Transition(string(from), string(to))
	logging.FromContext(ctx).Info("order transitioned",
		"order_id", o.ID,
		"from", from,
		"to", to,
		"actor", actor,
	)
	return nil
}

func (m *Machine) appendEvent(ctx context.Context, tx *sql.Tx, o *domain.Order, evType domain.OrderEventType, from *domain.OrderStatus, actor string, effects []Effect, detail map[string]string) error {
	payload, err := json.Marshal(eventPayload{Snapshot: domain.SnapshotOf(o), Effects: effects, Detail: detail})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return m.events.Append(ctx, tx, &domain.OrderEvent{
		ID:         uuid.New(),
		OrderID:    o.ID,
		EventType:  evType,
		FromStatus: from,
		ToStatus:   o.Status,
		Actor:      actor,
		Payload:    payload,
		CreatedAt:  m.now(),
	})
}

// ConfirmPayment records a gateway-confirmed payment and moves the order to
// processing. Confirming an order that is already past payment is a no-op.
func (m *Machine) ConfirmPayment(ctx context.Context, orderID int64, v *gateway.Validation) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.ConfirmPayment")
	defer span.End()

	var order *domain.Order
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := m.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = o

		switch o.Status {
		case domain.OrderStatusProcessing, domain.OrderStatusPendingRetry, domain.OrderStatusCompleted:
			return nil
		case domain.OrderStatusAwaitingPayment, domain.OrderStatusPending:
		default:
			m.metrics.OperatorAlert("late_payment")
			logging.FromContext(ctx).Error("operator alert: payment confirmed for closed order",
				"order_id", o.ID,
				"status", o.Status,
			)
			return fmt.Errorf("%w: order is %s", domain.ErrIllegalTransition, o.Status)
		}

		p, err := m.payments.GetLatestForOrder(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		now := m.now()
		p.Status = domain.PaymentStatusSucceeded
		if v != nil && v.TransactionID != "" {
			txID := v.TransactionID
			p.GatewayTransactionID = &txID
		}
		p.CompletedAt = &now
		p.UpdatedAt = now
		if err := m.payments.Update(ctx, tx, p); err != nil {
			return err
		}

		o.PaymentStatus = domain.OrderPaymentPaid
		detail := map[string]string{"payment_id": p.ID.String()}
		if p.GatewayTransactionID != nil {
			detail["transaction_id"] = *p.GatewayTransactionID
		}
		return m.transition(ctx, tx, o, domain.OrderStatusProcessing, ActorGateway, domain.OrderEventTransitioned, detail)
	})
	if err != nil {
		return nil, fmt.Errorf("ConfirmPayment: %w", err)
	}
	return order, nil
}

// FailPayment fails an order whose payment was declined.
func (m *Machine) FailPayment(ctx context.Context, orderID int64, reason string) (*domain.Order, error) {
	var order *domain.Order
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := m.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = o

		switch o.Status {
		case domain.OrderStatusFailed:
			return nil
		case domain.OrderStatusAwaitingPayment, domain.OrderStatusPending:
		default:
			return fmt.Errorf("%w: order is %s", domain.ErrIllegalTransition, o.Status)
		}

		p, err := m.payments.GetLatestForOrder(ctx, tx, o.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if p != nil && !p.Status.IsTerminal() {
			p.Status = domain.PaymentStatusFailed
			p.FailureReason = &reason
			p.UpdatedAt = m.now()
			if err := m.payments.Update(ctx, tx, p); err != nil {
				return err
			}
		}

		code := "payment_failed"
		o.PaymentStatus = domain.OrderPaymentFailed
		o.FailureReason = &reason
		o.FailureCode = &code
		if o.Status == domain.OrderStatusPending {
			if err := m.transition(ctx, tx, o, domain.OrderStatusAwaitingPayment, ActorGateway, domain.OrderEventTransitioned, nil); err != nil {
				return err
			}
		}
		return m.transition(ctx, tx, o, domain.OrderStatusFailed, ActorGateway, domain.OrderEventTransitioned, map[string]string{"reason": reason})
	})
	if err != nil {
		return nil, fmt.Errorf("FailPayment: %w", err)
	}
	return order, nil
}

// Cancel moves an order to cancelled where the transition table allows it.
// Paid orders are refunded by the transition's effects.
func (m *Machine) Cancel(ctx context.Context, orderID int64, reason, actor string) (*domain.Order, error) {
	var order *domain.Order
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := m.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = o
		if o.Status == domain.OrderStatusCancelled {
			return nil
		}
		if !o.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			return fmt.Errorf("%w: cannot cancel %s order", domain.ErrIllegalTransition, o.Status)
		}

		if o.Status == domain.OrderStatusAwaitingPayment {
			p, err := m.payments.GetLatestForOrder(ctx, tx, o.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if p != nil && p.Status == domain.PaymentStatusPending {
				p.Status = domain.PaymentStatusCancelled
				p.UpdatedAt = m.now()
				if err := m.payments.Update(ctx, tx, p); err != nil {
					return err
				}
			}
		}

		code := "cancelled"
		o.FailureReason = &reason
		o.FailureCode = &code
		return m.transition(ctx, tx, o, domain.OrderStatusCancelled, actor, domain.OrderEventTransitioned, map[string]string{"reason": reason})
	})
	if err != nil {
		return nil, fmt.Errorf("Cancel: %w", err)
	}
	return order, nil
}

// Refund returns amount of the order's payment to the customer. A zero amount
// refunds everything still refundable. The order status does not change.
func (m *Machine) Refund(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) (*domain.Payment, error) {
	var payment *domain.Payment
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := m.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		latest, err := m.payments.GetLatestForOrder(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		p, err := m.payments.GetForUpdate(ctx, tx, latest.ID)
		if err != nil {
			return err
		}

		refundable := p.Refundable()
		if !refundable.IsPositive() {
			return fmt.Errorf("%w: payment is %s", domain.ErrPaymentTerminal, p.Status)
		}
		if amount.IsZero() {
			amount = refundable
		}
		if !domain.ValidAmount(amount) {
			return fmt.Errorf("%w: invalid refund amount %s", domain.ErrValidation, amount)
		}
		if amount.GreaterThan(refundable) {
			return fmt.Errorf("%w: %s > %s", domain.ErrRefundExceedsPayment, amount.StringFixed(2), refundable.StringFixed(2))
		}

		if _, err := m.refunds.Refund(ctx, tx, p, amount); err != nil {
			return err
		}
		applyRefund(p, amount, m.now())
		if err := m.payments.Update(ctx, tx, p); err != nil {
			return err
		}
		payment = p

		full := p.Status == domain.PaymentStatusRefunded
		if full {
			o.PaymentStatus = domain.OrderPaymentRefunded
		}
		effects := EffectsForRefund(o, full)
		if err := m.executor.Execute(ctx, tx, o, effects); err != nil {
			return err
		}
		o.UpdatedAt = m.now()
		if err := m.orders.Update(ctx, tx, o); err != nil {
			return err
		}
		from := o.Status
		return m.appendEvent(ctx, tx, o, domain.OrderEventRefunded, &from, ActorOperator, effects, map[string]string{
			"amount": amount.StringFixed(2),
			"reason": reason,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	logging.FromContext(ctx).Info("payment refunded",
		"order_id", orderID,
		"payment_id", payment.ID,
		"refunded_amount", payment.RefundedAmount.StringFixed(2),
	)
	return payment, nil
}
