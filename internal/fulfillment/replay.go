package fulfillment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

type eventLister interface {
	ListByOrder(ctx context.Context, orderID int64) ([]domain.OrderEvent, error)
}

type ReplayResult struct {
	Order *domain.Order
	// Events is the number of log entries folded.
	Events int
	// Suppressed lists the effects the log implies; none of them ran.
	Suppressed []Effect
	// Changed reports whether the stored status fields disagreed with the
	// log and were rewritten.
	Changed bool
}

// Replayer rebuilds orders from their event log.
type Replayer struct {
	db       txRunner
	orders   orderStore
	events   eventLister
	executor Executor
	now      func() time.Time
}

func NewReplayer(db txRunner, orders orderStore, events eventLister, executor Executor) *Replayer {
	return &Replayer{db: db, orders: orders, events: events, executor: executor, now: dbNow}
}

// Replay folds the order's events through the transition table with all
// effects suppressed for the whole session, then stores the rebuilt status
// fields if they differ from the row.
func (r *Replayer) Replay(ctx context.Context, orderID int64) (*ReplayResult, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.Replay")
	defer span.End()

	events, err := r.events.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("Replay: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("Replay: %w: no events for order %d", domain.ErrNotFound, orderID)
	}

	exec := Suppressed(r.executor)
	res := &ReplayResult{Events: len(events)}
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := r.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		rebuilt, err := fold(ctx, tx, current, events, exec)
		if err != nil {
			return err
		}

		res.Order = rebuilt
		res.Changed = !sameSnapshot(domain.SnapshotOf(current), domain.SnapshotOf(rebuilt))
		if !res.Changed {
			return nil
		}
		rebuilt.UpdatedAt = r.now()
		return r.orders.Update(ctx, tx, rebuilt)
	})
	if err != nil {
		return nil, fmt.Errorf("Replay: %w", err)
	}
	res.Suppressed = exec.Recorded()

	logging.FromContext(ctx).Info("order replayed",
		"order_id", orderID,
		"events", res.Events,
		"status", res.Order.Status,
		"changed", res.Changed,
		"suppressed_effects", len(res.Suppressed),
	)
	return res, nil
}

func fold(ctx context.Context, tx *sql.Tx, base *domain.Order, events []domain.OrderEvent, exec Executor) (*domain.Order, error) {
	o := *base
	for i, e := range events {
		var p eventPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("event %d: decode: %w", e.Seq, err)
		}

		switch e.EventType {
		case domain.OrderEventCreated:
			if i != 0 {
				return nil, fmt.Errorf("event %d: created event after start of log", e.Seq)
			}
		case domain.OrderEventTransitioned, domain.OrderEventAttemptFailed:
			from := o.Status
			if e.FromStatus != nil && *e.FromStatus != from {
				return nil, fmt.Errorf("event %d: %w: log says from %s, rebuilt order is %s",
					e.Seq, domain.ErrIllegalTransition, *e.FromStatus, from)
			}
			if !from.CanTransitionTo(e.ToStatus) {
				return nil, fmt.Errorf("event %d: %w: %s -> %s", e.Seq, domain.ErrIllegalTransition, from, e.ToStatus)
			}
			o.Status = e.ToStatus
			if err := exec.Execute(ctx, tx, &o, EffectsFor(&o, from, e.ToStatus)); err != nil {
				return nil, err
			}
		case domain.OrderEventRefunded:
			if err := exec.Execute(ctx, tx, &o, EffectsForRefund(&o, p.Snapshot.PaymentStatus == domain.OrderPaymentRefunded)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("event %d: unknown event type %q", e.Seq, e.EventType)
		}
		p.Snapshot.ApplyTo(&o)
	}
	return &o, nil
}

func sameSnapshot(a, b domain.OrderSnapshot) bool {
	return a.Status == b.Status &&
		a.PaymentStatus == b.PaymentStatus &&
		a.RetryCount == b.RetryCount &&
		sameTime(a.NextRetryAt, b.NextRetryAt) &&
		sameTime(a.CompletedAt, b.CompletedAt) &&
		sameString(a.FailureReason, b.FailureReason) &&
		sameString(a.FailureCode, b.FailureCode) &&
		sameString(a.ProviderRef, b.ProviderRef)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
