package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/metrics"
	"github.com/josh-kwaku/commerce-ledger/internal/notification"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

type EffectKind string

const (
	EffectIssueInvoice EffectKind = "issue_invoice"
	EffectNotify       EffectKind = "notify"
	EffectRefund       EffectKind = "refund"
	EffectVoidCoupon   EffectKind = "void_coupon"
	EffectRestock      EffectKind = "restock"
)

// Effect is a side effect a transition asks for. Template is set for
// EffectNotify only.
type Effect struct {
	Kind     EffectKind `json:"kind"`
	Template string     `json:"template,omitempty"`
}

// EffectsFor is the single place that decides which side effects follow an
// order transition.
func EffectsFor(o *domain.Order, from, to domain.OrderStatus) []Effect {
	switch to {
	case domain.OrderStatusProcessing:
		if from == domain.OrderStatusPendingRetry {
			return nil
		}
		return []Effect{{Kind: EffectNotify, Template: domain.TemplateOrderConfirmed}}
	case domain.OrderStatusCompleted:
		return []Effect{
			{Kind: EffectIssueInvoice},
			{Kind: EffectNotify, Template: domain.TemplateOrderCompleted},
		}
	case domain.OrderStatusFailed, domain.OrderStatusCancelled:
		// Locks are taken in checkout order: package, coupon, balance.
		out := []Effect{{Kind: EffectRestock}}
		if o.CouponID != nil {
			out = append(out, Effect{Kind: EffectVoidCoupon})
		}
		if o.PaymentStatus == domain.OrderPaymentPaid {
			out = append(out, Effect{Kind: EffectRefund})
		}
		tmpl := domain.TemplateOrderFailed
		if to == domain.OrderStatusCancelled {
			tmpl = domain.TemplateOrderCancelled
		}
		return append(out, Effect{Kind: EffectNotify, Template: tmpl})
	default:
		return nil
	}
}

// EffectsForRefund covers refunds issued outside a transition. Only a full
// refund gives the coupon use back.
func EffectsForRefund(o *domain.Order, full bool) []Effect {
	if full && o.CouponID != nil {
		return []Effect{{Kind: EffectVoidCoupon}}
	}
	return nil
}

// Executor runs effects inside the transaction of the transition that
// produced them. It may update o (payment status after a refund).
type Executor interface {
	Execute(ctx context.Context, tx *sql.Tx, o *domain.Order, effects []Effect) error
}

type invoiceIssuer interface {
	IssueForOrder(ctx context.Context, tx *sql.Tx, order *domain.Order, payment *domain.Payment) (*domain.Invoice, error)
}

type messageQueue interface {
	Enqueue(ctx context.Context, tx repository.Querier, msg notification.Message) (uuid.UUID, error)
}

type couponVoider interface {
	VoidUsage(ctx context.Context, tx *sql.Tx, orderID int64) (bool, error)
}

type stockRestorer interface {
	RestoreStock(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

type customerLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
}

type paymentStore interface {
	GetLatestForOrder(ctx context.Context, q repository.Querier, orderID int64) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error)
	Update(ctx context.Context, q repository.Querier, p *domain.Payment) error
}

type refunder interface {
	Refund(ctx context.Context, tx *sql.Tx, p *domain.Payment, amount decimal.Decimal) (*gateway.RefundResult, error)
}

type LiveExecutor struct {
	invoices  invoiceIssuer
	queue     messageQueue
	coupons   couponVoider
	stock     stockRestorer
	customers customerLookup
	payments  paymentStore
	refunds   refunder
	metrics   *metrics.Metrics
}

func NewLiveExecutor(
	invoices invoiceIssuer,
	queue messageQueue,
	coupons couponVoider,
	stock stockRestorer,
	customers customerLookup,
	payments paymentStore,
	refunds refunder,
	m *metrics.Metrics,
) *LiveExecutor {
	return &LiveExecutor{
		invoices:  invoices,
		queue:     queue,
		coupons:   coupons,
		stock:     stock,
		customers: customers,
		payments:  payments,
		refunds:   refunds,
		metrics:   m,
	}
}

func (e *LiveExecutor) Execute(ctx context.Context, tx *sql.Tx, o *domain.Order, effects []Effect) error {
	for _, eff := range effects {
		var err error
		switch eff.Kind {
		case EffectIssueInvoice:
			err = e.issueInvoice(ctx, tx, o)
		case EffectNotify:
			err = e.notify(ctx, tx, o, eff.Template)
		case EffectRefund:
			err = e.refund(ctx, tx, o)
		case EffectVoidCoupon:
			_, err = e.coupons.VoidUsage(ctx, tx, o.ID)
		case EffectRestock:
			err = e.stock.RestoreStock(ctx, tx, o.PackageID)
		default:
			err = fmt.Errorf("unknown effect %q", eff.Kind)
		}
		if err != nil {
			return fmt.Errorf("Execute %s: %w", eff.Kind, err)
		}
	}
	return nil
}

func (e *LiveExecutor) issueInvoice(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	p, err := e.payments.GetLatestForOrder(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	_, err = e.invoices.IssueForOrder(ctx, tx, o, p)
	return err
}

func (e *LiveExecutor) notify(ctx context.Context, tx *sql.Tx, o *domain.Order, template string) error {
	c, err := e.customers.GetByID(ctx, o.CustomerID)
	if err != nil {
		return err
	}
	data := map[string]any{
		"order_uuid": o.UUID.String(),
		"status":     string(o.Status),
		"amount":     o.Amount.StringFixed(2),
		"currency":   o.Currency,
	}
	if o.ActivationCode != nil {
		data["activation_code"] = *o.ActivationCode
	}
	if o.FailureReason != nil {
		data["reason"] = *o.FailureReason
	}
	_, err = e.queue.Enqueue(ctx, tx, notification.Message{
		DedupeKey: notification.DedupeKey(o.ID, template),
		Template:  template,
		Recipient: c.Email,
		Data:      data,
	})
	return err
}

// refund returns whatever is still refundable on the order's payment. Balance
// refunds share the transaction. A hosted gateway refund that fails is left
// for an operator and does not block the transition.
func (e *LiveExecutor) refund(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	latest, err := e.payments.GetLatestForOrder(ctx, tx, o.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	p, err := e.payments.GetForUpdate(ctx, tx, latest.ID)
	if err != nil {
		return err
	}
	amount := p.Refundable()
	if !amount.IsPositive() {
		return nil
	}

	if _, err := e.refunds.Refund(ctx, tx, p, amount); err != nil {
		if p.Provider == domain.ProviderBalance {
			return err
		}
		e.metrics.OperatorAlert("refund_failed")
		logging.FromContext(ctx).Error("operator alert: gateway refund failed",
			"order_id", o.ID,
			"payment_id", p.ID,
			"amount", amount.StringFixed(2),
			"error", err,
		)
		return nil
	}

	applyRefund(p, amount, time.Now().UTC())
	if err := e.payments.Update(ctx, tx, p); err != nil {
		return err
	}
	if p.Status == domain.PaymentStatusRefunded {
		o.PaymentStatus = domain.OrderPaymentRefunded
	}
	return nil
}

func applyRefund(p *domain.Payment, amount decimal.Decimal, now time.Time) {
	p.RefundedAmount = p.RefundedAmount.Add(amount)
	if p.RefundedAmount.GreaterThanOrEqual(p.Amount) {
		p.Status = domain.PaymentStatusRefunded
	} else {
		p.Status = domain.PaymentStatusPartiallyRefunded
	}
	p.UpdatedAt = now
}

// SuppressedExecutor records effects without running them. Replay sessions
// use one so rebuilding an order never repeats what already happened.
type SuppressedExecutor struct {
	inner    Executor
	mu       sync.Mutex
	recorded []Effect
}

func Suppressed(inner Executor) *SuppressedExecutor {
	return &SuppressedExecutor{inner: inner}
}

func (s *SuppressedExecutor) Execute(_ context.Context, _ *sql.Tx, _ *domain.Order, effects []Effect) error {
	s.mu.Lock()
	s.recorded = append(s.recorded, effects...)
	s.mu.Unlock()
	return nil
}

func (s *SuppressedExecutor) Recorded() []Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Effect, len(s.recorded))
	copy(out, s.recorded)
	return out
}

// Unwrap returns the executor this one stands in for.
func (s *SuppressedExecutor) Unwrap() Executor { return s.inner }

type balanceRefunder interface {
	RefundTx(ctx context.Context, tx *sql.Tx, p *domain.Payment, amount decimal.Decimal) (*gateway.RefundResult, error)
}

type providerLookup interface {
	Get(kind domain.PaymentProvider) (gateway.Provider, error)
}

// Refunder routes a refund to the provider that took the payment.
type Refunder struct {
	balance   balanceRefunder
	providers providerLookup
}

func NewRefunder(balance balanceRefunder, providers providerLookup) *Refunder {
	return &Refunder{balance: balance, providers: providers}
}

func (r *Refunder) Refund(ctx context.Context, tx *sql.Tx, p *domain.Payment, amount decimal.Decimal) (*gateway.RefundResult, error) {
	if p.Provider == domain.ProviderBalance {
		return r.balance.RefundTx(ctx, tx, p, amount)
	}
	prov, err := r.providers.Get(p.Provider)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	return prov.Refund(ctx, p, amount)
}
