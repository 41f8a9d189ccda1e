package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/coupon"
	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
	"github.com/josh-kwaku/commerce-ledger/internal/ledger"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error { return fn(nil) }

type fakeCustomers struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]domain.Customer
	ensure int
}

func (f *fakeCustomers) GetByID(_ context.Context, id uuid.UUID) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (f *fakeCustomers) Ensure(_ context.Context, _ *sql.Tx, c *domain.Customer) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure++
	for _, existing := range f.byID {
		if existing.UserID == c.UserID {
			return &existing, nil
		}
	}
	f.byID[c.ID] = *c
	stored := *c
	return &stored, nil
}

type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]domain.User
}

func (f *fakeUsers) Ensure(_ context.Context, _ *sql.Tx, u *domain.User) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byEmail[u.Email]; ok {
		return &existing, nil
	}
	f.byEmail[u.Email] = *u
	stored := *u
	return &stored, nil
}

type fakePackages struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]domain.Package
	taken int
}

func (f *fakePackages) GetByID(_ context.Context, id uuid.UUID) (*domain.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (f *fakePackages) TakeStock(_ context.Context, _ *sql.Tx, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taken++
	p := f.byID[id]
	if p.Stock == nil || *p.Stock <= 0 {
		return domain.ErrPackageUnavailable
	}
	n := *p.Stock - 1
	p.Stock = &n
	f.byID[id] = p
	return nil
}

type fakeOrders struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]domain.Order
}

func (f *fakeOrders) Create(_ context.Context, _ *sql.Tx, o *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o.ID = f.nextID
	f.orders[o.ID] = *o
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, _ repository.Querier, id int64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (f *fakeOrders) ListAwaitingPayment(_ context.Context, olderThan time.Time, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, o := range f.orders {
		if o.Status == domain.OrderStatusAwaitingPayment && o.CreatedAt.Before(olderThan) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeOrders) put(o domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

func (f *fakeOrders) get(id int64) domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakePayments struct {
	mu   sync.Mutex
	byID map[uuid.UUID]domain.Payment
}

func (f *fakePayments) Create(_ context.Context, _ *sql.Tx, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.IdempotencyKey == p.IdempotencyKey {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
	}
	f.byID[p.ID] = *p
	return nil
}

func (f *fakePayments) GetByIdempotencyKey(_ context.Context, key string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.IdempotencyKey == key {
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakePayments) GetLatestForOrder(_ context.Context, _ repository.Querier, orderID int64) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.OrderID == orderID {
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakePayments) Update(_ context.Context, _ repository.Querier, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = *p
	return nil
}

func (f *fakePayments) forOrder(orderID int64) domain.Payment {
	p, _ := f.GetLatestForOrder(context.Background(), nil, orderID)
	return *p
}

type ledgerOp struct {
	kind            string
	customer        uuid.UUID
	amount          decimal.Decimal
	fromReservation bool
}

type fakeLedger struct {
	mu         sync.Mutex
	ops        []ledgerOp
	reserveErr error
}

func (f *fakeLedger) Reserve(_ context.Context, _ *sql.Tx, customerID uuid.UUID, amount decimal.Decimal, _ ledger.Ref) (*domain.BalanceTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	f.ops = append(f.ops, ledgerOp{kind: "reserve", customer: customerID, amount: amount})
	return &domain.BalanceTransaction{}, nil
}

func (f *fakeLedger) Deduct(_ context.Context, _ *sql.Tx, customerID uuid.UUID, amount decimal.Decimal, fromReservation bool, _ ledger.Ref) (*domain.BalanceTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, ledgerOp{kind: "deduct", customer: customerID, amount: amount, fromReservation: fromReservation})
	return &domain.BalanceTransaction{}, nil
}

type fakeCoupons struct {
	app    *coupon.Application
	err    error
	usages []int64
}

func (f *fakeCoupons) Validate(_ context.Context, _ string, _ *domain.Customer, _ *domain.Package, amount decimal.Decimal) (*coupon.Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	discount := coupon.Calculate(f.app.Coupon, amount)
	return &coupon.Application{Coupon: f.app.Coupon, Discount: discount, Final: amount.Sub(discount)}, nil
}

func (f *fakeCoupons) RecordUsage(_ context.Context, _ *sql.Tx, couponID, customerID uuid.UUID, orderID int64, discount decimal.Decimal) (*domain.CouponUsage, error) {
	f.usages = append(f.usages, orderID)
	return &domain.CouponUsage{ID: uuid.New(), CouponID: couponID, CustomerID: customerID, OrderID: orderID, DiscountAmount: discount}, nil
}

// fakeLifecycle moves orders in the fake store the way the fulfillment
// machine would, without effects.
type fakeLifecycle struct {
	mu          sync.Mutex
	orders      *fakeOrders
	transitions []domain.OrderStatus
	confirmed   []int64
	failed      map[int64]string
	kicked      []int64
}

func (f *fakeLifecycle) Created(context.Context, *sql.Tx, *domain.Order, string) error { return nil }

func (f *fakeLifecycle) Transition(_ context.Context, _ *sql.Tx, o *domain.Order, to domain.OrderStatus, _ string) error {
	if !o.Status.CanTransitionTo(to) {
		return domain.ErrIllegalTransition
	}
	o.Status = to
	f.orders.put(*o)
	f.mu.Lock()
	f.transitions = append(f.transitions, to)
	f.mu.Unlock()
	return nil
}

func (f *fakeLifecycle) ConfirmPayment(_ context.Context, orderID int64, _ *gateway.Validation) (*domain.Order, error) {
	o := f.orders.get(orderID)
	o.Status = domain.OrderStatusProcessing
	o.PaymentStatus = domain.OrderPaymentPaid
	f.orders.put(o)
	f.mu.Lock()
	f.confirmed = append(f.confirmed, orderID)
	f.mu.Unlock()
	return &o, nil
}

func (f *fakeLifecycle) FailPayment(_ context.Context, orderID int64, reason string) (*domain.Order, error) {
	o := f.orders.get(orderID)
	o.Status = domain.OrderStatusFailed
	o.PaymentStatus = domain.OrderPaymentFailed
	f.orders.put(o)
	f.mu.Lock()
	f.failed[orderID] = reason
	f.mu.Unlock()
	return &o, nil
}

func (f *fakeLifecycle) Kick(_ context.Context, orderID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, orderID)
}

// fakeGateway is a hosted provider driven by functions.
type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	checkout func(n int) (*gateway.Session, error)
	validate func(p *domain.Payment) (*gateway.Validation, error)
}

func (f *fakeGateway) Name() domain.PaymentProvider { return domain.ProviderCard }

func (f *fakeGateway) CreateCheckout(_ context.Context, _ gateway.CheckoutRequest) (*gateway.Session, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.checkout(n)
}

func (f *fakeGateway) ValidatePayment(_ context.Context, p *domain.Payment) (*gateway.Validation, error) {
	return f.validate(p)
}

func (f *fakeGateway) Refund(context.Context, *domain.Payment, decimal.Decimal) (*gateway.RefundResult, error) {
	return nil, fmt.Errorf("not supported")
}

func redirectSession(int) (*gateway.Session, error) {
	return &gateway.Session{GatewayID: "cs_1", CheckoutURL: "https://pay.example/cs_1", Status: domain.PaymentStatusPending}, nil
}

type harness struct {
	svc       *Service
	customers *fakeCustomers
	users     *fakeUsers
	packages  *fakePackages
	orders    *fakeOrders
	payments  *fakePayments
	ledger    *fakeLedger
	coupons   *fakeCoupons
	lifecycle *fakeLifecycle
	card      *fakeGateway

	business uuid.UUID
	consumer uuid.UUID
	pkg      uuid.UUID
}

func newHarness(rates displayRates) *harness {
	h := &harness{
		customers: &fakeCustomers{byID: map[uuid.UUID]domain.Customer{}},
		users:     &fakeUsers{byEmail: map[string]domain.User{}},
		packages:  &fakePackages{byID: map[uuid.UUID]domain.Package{}},
		orders:    &fakeOrders{orders: map[int64]domain.Order{}},
		payments:  &fakePayments{byID: map[uuid.UUID]domain.Payment{}},
		ledger:    &fakeLedger{},
		coupons:   &fakeCoupons{},
		card:      &fakeGateway{checkout: redirectSession},
		business:  uuid.New(),
		consumer:  uuid.New(),
		pkg:       uuid.New(),
	}
	h.lifecycle = &fakeLifecycle{orders: h.orders, failed: map[int64]string{}}

	h.customers.byID[h.business] = domain.Customer{
		ID: h.business, UserID: uuid.New(), Type: domain.CustomerTypeB2B,
		Name: "Acme", Email: "ops@acme.test", DiscountPercent: decimal.NewFromInt(10),
	}
	h.customers.byID[h.consumer] = domain.Customer{
		ID: h.consumer, UserID: uuid.New(), Type: domain.CustomerTypeB2C,
		Name: "Jo", Email: "jo@example.test", DiscountPercent: decimal.Zero,
	}
	h.packages.byID[h.pkg] = domain.Package{
		ID: h.pkg, Name: "Spain 10GB", ProviderID: uuid.New(),
		RetailPrice: decimal.RequireFromString("50.00"), CostPrice: decimal.RequireFromString("30.00"),
		IsActive: true,
	}

	h.svc = NewService(Deps{
		DB:        fakeTx{},
		Customers: h.customers,
		Users:     h.users,
		Packages:  h.packages,
		Orders:    h.orders,
		Payments:  h.payments,
		Ledger:    h.ledger,
		Coupons:   h.coupons,
		Lifecycle: h.lifecycle,
		Gateways:  gateway.NewStaticRegistry(gateway.NewBalanceProvider(nil, nil, nil), h.card),
		Rates:     rates,
	}, Config{
		Currency:       "EUR",
		GatewayTimeout: time.Second,
		GatewayRetries: 2,
		RetryBase:      time.Millisecond,
		ReturnURL:      "https://shop.example/return",
		MaxRetries:     3,
	})
	return h
}
