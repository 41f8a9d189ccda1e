// Package checkout turns a purchase request into an order, a payment and,
// for balance-settled customers, the matching ledger movements, all in one
// transaction.
package checkout

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/commerce-ledger/internal/coupon"
	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/fulfillment"
	"github.com/josh-kwaku/commerce-ledger/internal/fx"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
	"github.com/josh-kwaku/commerce-ledger/internal/ledger"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/metrics"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
	"github.com/josh-kwaku/commerce-ledger/internal/retry"
)

var tracer = otel.Tracer("github.com/josh-kwaku/commerce-ledger/internal/checkout")

const (
	StatusCompleted = "completed"
	StatusRedirect  = "redirect"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type customerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
	Ensure(ctx context.Context, tx *sql.Tx, c *domain.Customer) (*domain.Customer, error)
}

type userStore interface {
	Ensure(ctx context.Context, tx *sql.Tx, u *domain.User) (*domain.User, error)
}

type packageStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Package, error)
	TakeStock(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

type orderStore interface {
	Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	GetByID(ctx context.Context, q repository.Querier, id int64) (*domain.Order, error)
	ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]int64, error)
}

type paymentStore interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error)
	GetLatestForOrder(ctx context.Context, q repository.Querier, orderID int64) (*domain.Payment, error)
	Update(ctx context.Context, q repository.Querier, p *domain.Payment) error
}

type balanceLedger interface {
	Reserve(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, amount decimal.Decimal, ref ledger.Ref) (*domain.BalanceTransaction, error)
	Deduct(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, amount decimal.Decimal, fromReservation bool, ref ledger.Ref) (*domain.BalanceTransaction, error)
}

type couponEngine interface {
	Validate(ctx context.Context, code string, customer *domain.Customer, pkg *domain.Package, orderAmount decimal.Decimal) (*coupon.Application, error)
	RecordUsage(ctx context.Context, tx *sql.Tx, couponID, customerID uuid.UUID, orderID int64, discount decimal.Decimal) (*domain.CouponUsage, error)
}

// lifecycle is the slice of the fulfillment machine checkout drives.
type lifecycle interface {
	Created(ctx context.Context, tx *sql.Tx, o *domain.Order, actor string) error
	Transition(ctx context.Context, tx *sql.Tx, o *domain.Order, to domain.OrderStatus, actor string) error
	ConfirmPayment(ctx context.Context, orderID int64, v *gateway.Validation) (*domain.Order, error)
	FailPayment(ctx context.Context, orderID int64, reason string) (*domain.Order, error)
	Kick(ctx context.Context, orderID int64)
}

type providers interface {
	Get(kind domain.PaymentProvider) (gateway.Provider, error)
}

type displayRates interface {
	Convert(ctx context.Context, amount decimal.Decimal, to string) (*fx.Conversion, error)
}

type Config struct {
	Currency       string
	GatewayTimeout time.Duration
	GatewayRetries int
	RetryBase      time.Duration
	ReturnURL      string
	MaxRetries     int
}

type Deps struct {
	DB        txRunner
	Reads     repository.Querier
	Customers customerStore
	Users     userStore
	Packages  packageStore
	Orders    orderStore
	Payments  paymentStore
	Ledger    balanceLedger
	Coupons   couponEngine
	Lifecycle lifecycle
	Gateways  providers
	Rates     displayRates
	Metrics   *metrics.Metrics
}

type Guest struct {
	Email string
	Name  string
}

type Request struct {
	CustomerID      uuid.UUID
	Guest           *Guest
	PackageID       uuid.UUID
	CouponCode      string
	Provider        domain.PaymentProvider
	IdempotencyKey  string
	DisplayCurrency string
	ReturnURL       string
}

type Result struct {
	Success         bool             `json:"success"`
	Status          string           `json:"status"`
	RedirectURL     string           `json:"redirect_url,omitempty"`
	OrderID         int64            `json:"order_id,omitempty"`
	OrderUUID       uuid.UUID        `json:"order_uuid,omitempty"`
	PaymentID       uuid.UUID        `json:"payment_id,omitempty"`
	CustomerID      uuid.UUID        `json:"customer_id,omitempty"`
	Amount          decimal.Decimal  `json:"amount"`
	Discount        decimal.Decimal  `json:"discount"`
	Currency        string           `json:"currency,omitempty"`
	DisplayAmount   *decimal.Decimal `json:"display_amount,omitempty"`
	DisplayCurrency string           `json:"display_currency,omitempty"`
	Replayed        bool             `json:"replayed,omitempty"`
	Error           *Failure         `json:"error,omitempty"`
}

type Service struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = domain.SettlementCurrency
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &Service{
		Deps: deps,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// quote is the priced purchase, computed before anything is written.
type quote struct {
	customer *domain.Customer
	pkg      *domain.Package
	provider domain.PaymentProvider
	subtotal decimal.Decimal
	discount decimal.Decimal
	amount   decimal.Decimal
	coupon   *coupon.Application
	display  *fx.Conversion
}

func (s *Service) CreateCheckout(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "checkout.CreateCheckout")
	defer span.End()

	started := time.Now()
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	customer, err := s.resolveCustomer(ctx, req)
	if err != nil {
		s.Metrics.Checkout("unknown", "rejected", time.Since(started))
		return nil, fmt.Errorf("CreateCheckout: %w", err)
	}
	segment := string(customer.Type)
	ctx = logging.With(ctx, "customer_id", customer.ID, "idempotency_key", req.IdempotencyKey)

	replay, err := s.checkIdempotency(ctx, req.IdempotencyKey, customer.ID, req.PackageID)
	if err != nil {
		s.Metrics.Checkout(segment, "rejected", time.Since(started))
		return nil, fmt.Errorf("CreateCheckout: %w", err)
	}
	if replay != nil {
		logging.FromContext(ctx).Info("idempotent replay", "order_id", replay.OrderID, "payment_id", replay.PaymentID)
		s.Metrics.Checkout(segment, "replayed", time.Since(started))
		return replay, nil
	}

	q, err := s.price(ctx, req, customer)
	if err != nil {
		s.Metrics.Checkout(segment, "rejected", time.Since(started))
		return nil, fmt.Errorf("CreateCheckout: %w", err)
	}

	var res *Result
	if q.provider == domain.ProviderBalance {
		res, err = s.settleWithBalance(ctx, req, q)
	} else {
		res, err = s.settleWithGateway(ctx, req, q)
	}
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			replay, rerr := s.checkIdempotency(ctx, req.IdempotencyKey, customer.ID, req.PackageID)
			if rerr != nil {
				return nil, fmt.Errorf("CreateCheckout: %w", rerr)
			}
			if replay != nil {
				logging.FromContext(ctx).Info("idempotent replay (race)", "order_id", replay.OrderID)
				s.Metrics.Checkout(segment, "replayed", time.Since(started))
				return replay, nil
			}
			return nil, fmt.Errorf("CreateCheckout: %w", domain.ErrDuplicateCheckout)
		}
		s.Metrics.Checkout(segment, "failed", time.Since(started))
		return nil, fmt.Errorf("CreateCheckout: %w", err)
	}

	s.Metrics.Checkout(segment, res.Status, time.Since(started))
	return res, nil
}

func (s *Service) resolveCustomer(ctx context.Context, req Request) (*domain.Customer, error) {
	if req.Guest != nil {
		return s.ensureGuest(ctx, req.Guest)
	}
	c, err := s.Customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("resolveCustomer: %w", domain.ErrCustomerNotFound)
		}
		return nil, fmt.Errorf("resolveCustomer: %w", err)
	}
	return c, nil
}

// ensureGuest finds or creates the login and b2c customer behind a guest
// email. Concurrent calls for one email converge on the same rows.
func (s *Service) ensureGuest(ctx context.Context, g *Guest) (*domain.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(g.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("ensureGuest: %w: valid email required", domain.ErrValidation)
	}
	name := strings.TrimSpace(g.Name)
	if name == "" {
		name = email
	}

	hash, err := guestPasswordHash()
	if err != nil {
		return nil, fmt.Errorf("ensureGuest: %w", err)
	}

	var customer *domain.Customer
	err = s.DB.WithTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		u, err := s.Users.Ensure(ctx, tx, &domain.User{
			ID:           uuid.New(),
			Email:        email,
			Name:         name,
			PasswordHash: hash,
			Status:       domain.UserStatusActive,
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
		customer, err = s.Customers.Ensure(ctx, tx, &domain.Customer{
			ID:              uuid.New(),
			UserID:          u.ID,
			Type:            domain.CustomerTypeB2C,
			Name:            name,
			Email:           email,
			DiscountPercent: decimal.Zero,
			CreatedAt:       now,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensureGuest: %w", err)
	}
	if customer.Type != domain.CustomerTypeB2C {
		return nil, fmt.Errorf("ensureGuest: %w: email belongs to a business account", domain.ErrValidation)
	}
	return customer, nil
}

// guestPasswordHash hashes a random secret nobody knows. Guests sign in later
// through a password reset.
func guestPasswordHash() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("guestPasswordHash: %w", err)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("guestPasswordHash: %w", err)
	}
	return string(h), nil
}

func (s *Service) checkIdempotency(ctx context.Context, key string, customerID, packageID uuid.UUID) (*Result, error) {
	existing, err := s.Payments.GetByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkIdempotency: %w", err)
	}

	o, err := s.Orders.GetByID(ctx, s.Reads, existing.OrderID)
	if err != nil {
		return nil, fmt.Errorf("checkIdempotency: %w", err)
	}
	if o.CustomerID != customerID || o.PackageID != packageID {
		return nil, fmt.Errorf("checkIdempotency: %w", domain.ErrDuplicateCheckout)
	}

	res := resultFor(o, existing)
	res.Replayed = true
	return res, nil
}

func resultFor(o *domain.Order, p *domain.Payment) *Result {
	res := &Result{
		Success:    true,
		OrderID:    o.ID,
		OrderUUID:  o.UUID,
		PaymentID:  p.ID,
		CustomerID: o.CustomerID,
		Amount:     o.Amount,
		Discount:   o.DiscountAmount,
		Currency:   o.Currency,
	}
	switch {
	case o.Status == domain.OrderStatusFailed || o.Status == domain.OrderStatusCancelled:
		res.Success = false
		res.Status = StatusFailed
	case o.PaymentStatus == domain.OrderPaymentPaid || o.PaymentStatus == domain.OrderPaymentRefunded:
		res.Status = StatusCompleted
	case p.CheckoutURL != nil:
		res.Status = StatusRedirect
		res.RedirectURL = *p.CheckoutURL
	default:
		res.Status = StatusPending
	}
	return res
}

func (s *Service) price(ctx context.Context, req Request, customer *domain.Customer) (*quote, error) {
	provider, err := providerFor(customer, req.Provider)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}

	pkg, err := s.Packages.GetByID(ctx, req.PackageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("price: %w", domain.ErrPackageUnavailable)
		}
		return nil, fmt.Errorf("price: %w", err)
	}
	if !pkg.Available() {
		return nil, fmt.Errorf("price: %w", domain.ErrPackageUnavailable)
	}

	q := &quote{
		customer: customer,
		pkg:      pkg,
		provider: provider,
		subtotal: pkg.RetailPrice,
		amount:   CustomerPrice(pkg.RetailPrice, customer.DiscountPercent),
	}

	if strings.TrimSpace(req.CouponCode) != "" {
		app, err := s.Coupons.Validate(ctx, req.CouponCode, customer, pkg, q.amount)
		if err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
		q.coupon = app
		q.amount = app.Final
	}
	q.discount = q.subtotal.Sub(q.amount)
	if !q.amount.IsPositive() {
		// Nothing to collect: settle in-transaction without a ledger movement.
		q.provider = domain.ProviderBalance
	}

	if req.DisplayCurrency != "" && s.Rates != nil {
		conv, err := s.Rates.Convert(ctx, q.amount, req.DisplayCurrency)
		if err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
		q.display = conv
	}
	return q, nil
}

// CustomerPrice applies a customer's standing discount to a retail price.
func CustomerPrice(retail, discountPercent decimal.Decimal) decimal.Decimal {
	if !discountPercent.IsPositive() {
		return retail
	}
	hundred := decimal.NewFromInt(100)
	return domain.RoundMoney(retail.Mul(hundred.Sub(discountPercent)).Div(hundred))
}

// providerFor picks the settlement path. Business customers settle against
// their prepaid balance; everyone else pays through a hosted gateway.
func providerFor(c *domain.Customer, requested domain.PaymentProvider) (domain.PaymentProvider, error) {
	def := gateway.DefaultFor(c.Type)
	if requested == "" {
		return def, nil
	}
	if !requested.IsValid() {
		return "", fmt.Errorf("providerFor: %w: %s", domain.ErrUnknownProvider, requested)
	}
	if (requested == domain.ProviderBalance) != c.BalanceSettled() {
		return "", fmt.Errorf("providerFor: %w: %s customers cannot pay with %s", domain.ErrValidation, c.Type, requested)
	}
	return requested, nil
}

func (s *Service) newOrder(q *quote, initial domain.OrderStatus) *domain.Order {
	now := s.now()
	o := &domain.Order{
		UUID:           uuid.New(),
		CustomerID:     q.customer.ID,
		PackageID:      q.pkg.ID,
		Status:         initial,
		PaymentStatus:  domain.OrderPaymentUnpaid,
		Type:           q.customer.Type,
		Currency:       s.cfg.Currency,
		Subtotal:       q.subtotal,
		DiscountAmount: q.discount,
		Amount:         q.amount,
		CostPrice:      q.pkg.CostPrice,
		MaxRetries:     s.cfg.MaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if q.coupon != nil {
		id := q.coupon.Coupon.ID
		o.CouponID = &id
	}
	return o
}

func (s *Service) newPayment(o *domain.Order, provider domain.PaymentProvider, key string) *domain.Payment {
	return &domain.Payment{
		ID:             uuid.New(),
		OrderID:        o.ID,
		Provider:       provider,
		Status:         domain.PaymentStatusPending,
		Amount:         o.Amount,
		RefundedAmount: decimal.Zero,
		Currency:       o.Currency,
		IdempotencyKey: key,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.CreatedAt,
	}
}

// openOrder writes the order, its first event, the payment and the coupon
// usage inside tx.
func (s *Service) openOrder(ctx context.Context, tx *sql.Tx, q *quote, key string, provider domain.PaymentProvider) (*domain.Order, *domain.Payment, error) {
	if q.pkg.Stock != nil {
		if err := s.Packages.TakeStock(ctx, tx, q.pkg.ID); err != nil {
			return nil, nil, err
		}
	}

	o := s.newOrder(q, domain.OrderStatusPending)
	if err := s.Orders.Create(ctx, tx, o); err != nil {
		return nil, nil, err
	}
	if err := s.Lifecycle.Created(ctx, tx, o, fulfillment.ActorCheckout); err != nil {
		return nil, nil, err
	}

	p := s.newPayment(o, provider, key)
	if err := s.Payments.Create(ctx, tx, p); err != nil {
		return nil, nil, err
	}

	if q.coupon != nil {
		if _, err := s.Coupons.RecordUsage(ctx, tx, q.coupon.Coupon.ID, o.CustomerID, o.ID, q.coupon.Discount); err != nil {
			return nil, nil, err
		}
	}
	return o, p, nil
}

func (s *Service) settleWithBalance(ctx context.Context, req Request, q *quote) (*Result, error) {
	ctx, span := tracer.Start(ctx, "checkout.settleWithBalance")
	defer span.End()

	provider, err := s.Gateways.Get(domain.ProviderBalance)
	if err != nil {
		return nil, fmt.Errorf("settleWithBalance: %w", err)
	}

	var (
		order   *domain.Order
		payment *domain.Payment
	)
	err = s.DB.WithTx(ctx, func(tx *sql.Tx) error {
		o, p, err := s.openOrder(ctx, tx, q, req.IdempotencyKey, domain.ProviderBalance)
		if err != nil {
			return err
		}

		if o.Amount.IsPositive() {
			ref := ledger.Ref{OrderID: &o.ID, Description: fmt.Sprintf("order %s: %s", o.UUID, q.pkg.Name)}
			if _, err := s.Ledger.Reserve(ctx, tx, o.CustomerID, o.Amount, ref); err != nil {
				return err
			}
			if _, err := s.Ledger.Deduct(ctx, tx, o.CustomerID, o.Amount, true, ref); err != nil {
				return err
			}
		}

		session, err := provider.CreateCheckout(ctx, s.checkoutRequest(o, p, q, req))
		if err != nil {
			return err
		}
		now := s.now()
		p.GatewayID = &session.GatewayID
		p.Status = domain.PaymentStatusSucceeded
		p.CompletedAt = &now
		p.UpdatedAt = now
		if err := s.Payments.Update(ctx, tx, p); err != nil {
			return err
		}

		o.PaymentStatus = domain.OrderPaymentPaid
		if err := s.Lifecycle.Transition(ctx, tx, o, domain.OrderStatusProcessing, fulfillment.ActorCheckout); err != nil {
			return err
		}
		order, payment = o, p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("settleWithBalance: %w", err)
	}

	logging.FromContext(ctx).Info("checkout settled from balance",
		"order_id", order.ID,
		"payment_id", payment.ID,
		"amount", order.Amount,
	)
	s.Lifecycle.Kick(ctx, order.ID)

	res := resultFor(order, payment)
	res.Status = StatusCompleted
	s.attachDisplay(res, q)
	return res, nil
}

func (s *Service) settleWithGateway(ctx context.Context, req Request, q *quote) (*Result, error) {
	ctx, span := tracer.Start(ctx, "checkout.settleWithGateway")
	defer span.End()

	provider, err := s.Gateways.Get(q.provider)
	if err != nil {
		return nil, fmt.Errorf("settleWithGateway: %w", err)
	}

	var (
		order   *domain.Order
		payment *domain.Payment
	)
	err = s.DB.WithTx(ctx, func(tx *sql.Tx) error {
		o, p, err := s.openOrder(ctx, tx, q, req.IdempotencyKey, q.provider)
		if err != nil {
			return err
		}
		if err := s.Lifecycle.Transition(ctx, tx, o, domain.OrderStatusAwaitingPayment, fulfillment.ActorCheckout); err != nil {
			return err
		}
		order, payment = o, p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("settleWithGateway: %w", err)
	}

	// The order is committed; what follows must finish even if the caller
	// goes away.
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx).With("order_id", order.ID, "payment_id", payment.ID)

	if err := s.openSession(ctx, provider, order, payment, s.checkoutRequest(order, payment, q, req)); err != nil {
		if !errors.Is(err, domain.ErrGateway) || domain.IsTransient(err) {
			log.Warn("gateway unavailable, order awaits reconciliation", "error", err)
			res := resultFor(order, payment)
			res.Status = StatusPending
			s.attachDisplay(res, q)
			return res, nil
		}

		log.Error("gateway rejected checkout", "error", err)
		if _, ferr := s.Lifecycle.FailPayment(ctx, order.ID, err.Error()); ferr != nil {
			return nil, fmt.Errorf("settleWithGateway: fail payment: %w", ferr)
		}
		return nil, fmt.Errorf("settleWithGateway: %w", err)
	}

	log.Info("gateway checkout created", "gateway_id", *payment.GatewayID)
	res := resultFor(order, payment)
	s.attachDisplay(res, q)
	return res, nil
}

// openSession calls the gateway under a deadline with bounded transient
// retries and stores the session on the payment.
func (s *Service) openSession(ctx context.Context, provider gateway.Provider, o *domain.Order, p *domain.Payment, creq gateway.CheckoutRequest) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	var session *gateway.Session
	err := retry.Transient(callCtx, s.cfg.GatewayRetries, s.cfg.RetryBase, func(ctx context.Context) error {
		var err error
		session, err = provider.CreateCheckout(ctx, creq)
		return err
	})
	if err != nil {
		return fmt.Errorf("openSession: %w", err)
	}

	p.GatewayID = &session.GatewayID
	if session.CheckoutURL != "" {
		p.CheckoutURL = &session.CheckoutURL
	}
	p.UpdatedAt = s.now()
	if err := s.Payments.Update(ctx, s.Reads, p); err != nil {
		return fmt.Errorf("openSession: %w", err)
	}

	if session.Status == domain.PaymentStatusSucceeded {
		confirmed, err := s.Lifecycle.ConfirmPayment(ctx, o.ID, &gateway.Validation{Success: true, Status: session.Status, Amount: o.Amount})
		if err != nil {
			return fmt.Errorf("openSession: %w", err)
		}
		*o = *confirmed
		s.Lifecycle.Kick(ctx, o.ID)
	}
	return nil
}

func (s *Service) checkoutRequest(o *domain.Order, p *domain.Payment, q *quote, req Request) gateway.CheckoutRequest {
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}
	return gateway.CheckoutRequest{
		OrderID:        o.ID,
		OrderUUID:      o.UUID,
		PaymentID:      p.ID,
		CustomerID:     o.CustomerID,
		Email:          q.customer.Email,
		Description:    q.pkg.Name,
		Amount:         o.Amount,
		Currency:       o.Currency,
		ReturnURL:      returnURL,
		IdempotencyKey: p.IdempotencyKey,
	}
}

func (s *Service) attachDisplay(res *Result, q *quote) {
	if q.display == nil {
		return
	}
	amt := q.display.Amount
	res.DisplayAmount = &amt
	res.DisplayCurrency = q.display.Currency
}
