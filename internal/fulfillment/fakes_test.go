package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
	"github.com/josh-kwaku/commerce-ledger/internal/provisioning"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
	"github.com/josh-kwaku/commerce-ledger/internal/retry"
)

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error { return fn(nil) }

type fakeOrders struct {
	mu     sync.Mutex
	orders map[int64]domain.Order
}

func newFakeOrders(orders ...domain.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[int64]domain.Order)}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) GetForUpdate(_ context.Context, _ *sql.Tx, id int64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (f *fakeOrders) Update(_ context.Context, _ *sql.Tx, o *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = *o
	return nil
}

func (f *fakeOrders) get(id int64) domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (f *fakeEvents) Append(_ context.Context, _ *sql.Tx, e *domain.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := 1
	for _, ev := range f.events {
		if ev.OrderID == e.OrderID {
			seq++
		}
	}
	e.Seq = seq
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeEvents) ListByOrder(_ context.Context, orderID int64) ([]domain.OrderEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OrderEvent
	for _, e := range f.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePayments struct {
	mu       sync.Mutex
	payments map[uuid.UUID]domain.Payment
}

func newFakePayments(ps ...domain.Payment) *fakePayments {
	f := &fakePayments{payments: make(map[uuid.UUID]domain.Payment)}
	for _, p := range ps {
		f.payments[p.ID] = p
	}
	return f
}

func (f *fakePayments) GetLatestForOrder(_ context.Context, _ repository.Querier, orderID int64) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.OrderID == orderID {
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakePayments) GetForUpdate(_ context.Context, _ *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (f *fakePayments) Update(_ context.Context, _ repository.Querier, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.ID] = *p
	return nil
}

type recordingExecutor struct {
	mu   sync.Mutex
	runs []Effect
}

func (r *recordingExecutor) Execute(_ context.Context, _ *sql.Tx, _ *domain.Order, effects []Effect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, effects...)
	return nil
}

func (r *recordingExecutor) kinds() []EffectKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EffectKind, 0, len(r.runs))
	for _, e := range r.runs {
		out = append(out, e.Kind)
	}
	return out
}

type fakeRefunder struct {
	refunded decimal.Decimal
	err      error
}

func (f *fakeRefunder) Refund(_ context.Context, _ *sql.Tx, _ *domain.Payment, amount decimal.Decimal) (*gateway.RefundResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.refunded = f.refunded.Add(amount)
	return &gateway.RefundResult{RefundID: "r1", Amount: amount, Status: domain.PaymentStatusRefunded}, nil
}

type provisionFunc func(ctx context.Context, req provisioning.Request) (*provisioning.Result, error)

func (f provisionFunc) Provision(ctx context.Context, req provisioning.Request) (*provisioning.Result, error) {
	return f(ctx, req)
}

func okProvisioner() provisionFunc {
	return func(context.Context, provisioning.Request) (*provisioning.Result, error) {
		return &provisioning.Result{Reference: "prv_1", ActivationCode: "ACT-1"}, nil
	}
}

func failingProvisioner(transient bool) provisionFunc {
	return func(context.Context, provisioning.Request) (*provisioning.Result, error) {
		return nil, &domain.GatewayError{Op: "Provision", Transient: transient, Err: errUpstream}
	}
}

var errUpstream = errors.New("upstream said no")

func retryPolicy() retry.Policy {
	return retry.Policy{Base: 30 * time.Second, Cap: 10 * time.Minute, MaxAttempts: 3}
}

type harness struct {
	machine  *Machine
	orders   *fakeOrders
	events   *fakeEvents
	payments *fakePayments
	exec     *recordingExecutor
	refunds  *fakeRefunder
	now      time.Time
}

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newHarness(prov Provisioner, orders ...domain.Order) *harness {
	h := &harness{
		orders:   newFakeOrders(orders...),
		events:   &fakeEvents{},
		payments: newFakePayments(),
		exec:     &recordingExecutor{},
		refunds:  &fakeRefunder{},
		now:      testNow,
	}
	for _, o := range orders {
		id := uuid.New()
		h.payments.payments[id] = domain.Payment{
			ID:       id,
			OrderID:  o.ID,
			Provider: domain.ProviderBalance,
			Status:   paymentStatusFor(o),
			Amount:   o.Amount,
		}
	}
	h.machine = NewMachine(fakeTx{}, h.orders, h.events, h.payments, h.exec, h.refunds, prov,
		retryPolicy(), time.Minute, nil)
	h.machine.now = func() time.Time { return h.now }
	return h
}

func paymentStatusFor(o domain.Order) domain.PaymentStatus {
	if o.PaymentStatus == domain.OrderPaymentPaid {
		return domain.PaymentStatusSucceeded
	}
	return domain.PaymentStatusPending
}

func newOrder(id int64, status domain.OrderStatus) domain.Order {
	o := domain.Order{
		ID:            id,
		UUID:          uuid.New(),
		CustomerID:    uuid.New(),
		PackageID:     uuid.New(),
		Status:        status,
		PaymentStatus: domain.OrderPaymentPaid,
		Type:          domain.CustomerTypeB2B,
		Currency:      domain.SettlementCurrency,
		Amount:        decimal.RequireFromString("20.00"),
		MaxRetries:    3,
	}
	if status == domain.OrderStatusAwaitingPayment || status == domain.OrderStatusPending {
		o.PaymentStatus = domain.OrderPaymentUnpaid
		o.Type = domain.CustomerTypeB2C
	}
	return o
}
