// Package coupon validates coupon codes against a customer and package,
// computes discounts and records usage.
package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

type couponStore interface {
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Coupon, error)
	CountCustomerUsages(ctx context.Context, q repository.Querier, couponID, customerID uuid.UUID) (int, error)
	CreateUsage(ctx context.Context, tx *sql.Tx, u *domain.CouponUsage) error
	DeleteUsageByOrder(ctx context.Context, tx *sql.Tx, orderID int64) (*domain.CouponUsage, error)
	IncrementUsage(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	DecrementUsage(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

type orderCounter interface {
	CountPrior(ctx context.Context, customerID uuid.UUID) (int, error)
}

type coverageResolver interface {
	Resolve(ctx context.Context, names []string) ([]uuid.UUID, error)
}

// Application is a coupon that passed validation for one order amount.
type Application struct {
	Coupon   *domain.Coupon
	Discount decimal.Decimal
	Final    decimal.Decimal
}

type Engine struct {
	coupons  couponStore
	orders   orderCounter
	coverage coverageResolver
	reads    repository.Querier
	now      func() time.Time
}

func NewEngine(coupons couponStore, orders orderCounter, coverage coverageResolver, reads repository.Querier) *Engine {
	return &Engine{
		coupons:  coupons,
		orders:   orders,
		coverage: coverage,
		reads:    reads,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks code for customer buying pkg at orderAmount and returns the
// resulting discount. Rejections are *domain.CouponError values.
func (e *Engine) Validate(ctx context.Context, code string, customer *domain.Customer, pkg *domain.Package, orderAmount decimal.Decimal) (*Application, error) {
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return nil, fmt.Errorf("Validate: %w", domain.NewCouponError(normalized, domain.CouponReasonNotFound))
	}

	c, err := e.coupons.GetByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Validate: %w", domain.NewCouponError(normalized, domain.CouponReasonNotFound))
		}
		return nil, fmt.Errorf("Validate: %w", err)
	}

	if err := e.check(ctx, c, customer, pkg, orderAmount); err != nil {
		logging.FromContext(ctx).Info("coupon rejected",
			"coupon_code", c.Code,
			"customer_id", customer.ID,
			"package_id", pkg.ID,
			"error", err,
		)
		return nil, fmt.Errorf("Validate: %w", err)
	}

	discount := Calculate(c, orderAmount)
	return &Application{
		Coupon:   c,
		Discount: discount,
		Final:    orderAmount.Sub(discount),
	}, nil
}

func (e *Engine) check(ctx context.Context, c *domain.Coupon, customer *domain.Customer, pkg *domain.Package, amount decimal.Decimal) error {
	reject := func(reason domain.CouponReason) error {
		return domain.NewCouponError(c.Code, reason)
	}

	now := e.now()
	switch {
	case !c.IsActive:
		return reject(domain.CouponReasonNotFound)
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return reject(domain.CouponReasonUpcoming)
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return reject(domain.CouponReasonExpired)
	case c.LimitReached():
		return reject(domain.CouponReasonLimitReached)
	}

	if c.PerCustomerLimit != nil {
		used, err := e.coupons.CountCustomerUsages(ctx, e.reads, c.ID, customer.ID)
		if err != nil {
			return err
		}
		if used >= *c.PerCustomerLimit {
			return reject(domain.CouponReasonCustomerLimit)
		}
	}

	if amount.LessThan(c.MinOrderAmount) {
		return reject(domain.CouponReasonBelowMinimum)
	}

	if len(c.CustomerTypes) > 0 && !slices.Contains(c.CustomerTypes, customer.Type) {
		return reject(domain.CouponReasonCustomerType)
	}

	if len(c.CountryIDs) > 0 {
		ok, err := e.coversCountry(ctx, c, pkg)
		if err != nil {
			return err
		}
		if !ok {
			return reject(domain.CouponReasonCountry)
		}
	}

	if len(c.ProviderIDs) > 0 && !slices.Contains(c.ProviderIDs, pkg.ProviderID) {
		return reject(domain.CouponReasonProvider)
	}
	if len(c.PackageIDs) > 0 && !slices.Contains(c.PackageIDs, pkg.ID) {
		return reject(domain.CouponReasonPackage)
	}
	if slices.Contains(c.ExcludedPackageIDs, pkg.ID) {
		return reject(domain.CouponReasonExcluded)
	}

	if c.FirstTimeOnly {
		prior, err := e.orders.CountPrior(ctx, customer.ID)
		if err != nil {
			return err
		}
		if prior > 0 {
			return reject(domain.CouponReasonFirstOrder)
		}
	}
	return nil
}

// coversCountry matches the package's own country, or for regional packages
// any of its coverage countries, against the coupon's country allow-list.
func (e *Engine) coversCountry(ctx context.Context, c *domain.Coupon, pkg *domain.Package) (bool, error) {
	if pkg.CountryID != nil && slices.Contains(c.CountryIDs, *pkg.CountryID) {
		return true, nil
	}
	if !pkg.IsRegional || len(pkg.CoverageCountries) == 0 {
		return false, nil
	}
	ids, err := e.coverage.Resolve(ctx, pkg.CoverageCountries)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if slices.Contains(c.CountryIDs, id) {
			return true, nil
		}
	}
	return false, nil
}

// Calculate returns the discount c gives on amount. The result is always
// between zero and amount.
func Calculate(c *domain.Coupon, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() || !c.Value.IsPositive() {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch c.Type {
	case domain.CouponTypePercentage:
		d = domain.PercentOf(amount, c.Value)
	case domain.CouponTypeFixed:
		d = c.Value
	default:
		return decimal.Zero
	}
	return domain.MinMoney(d, amount)
}

// RecordUsage counts the coupon against the order inside tx. Limits are
// checked again under the coupon row lock, so two checkouts racing for the
// last use cannot both succeed.
func (e *Engine) RecordUsage(ctx context.Context, tx *sql.Tx, couponID, customerID uuid.UUID, orderID int64, discount decimal.Decimal) (*domain.CouponUsage, error) {
	c, err := e.coupons.GetForUpdate(ctx, tx, couponID)
	if err != nil {
		return nil, fmt.Errorf("RecordUsage: %w", err)
	}
	if c.LimitReached() {
		return nil, fmt.Errorf("RecordUsage: %w", domain.NewCouponError(c.Code, domain.CouponReasonLimitReached))
	}
	if c.PerCustomerLimit != nil {
		used, err := e.coupons.CountCustomerUsages(ctx, tx, c.ID, customerID)
		if err != nil {
			return nil, fmt.Errorf("RecordUsage: %w", err)
		}
		if used >= *c.PerCustomerLimit {
			return nil, fmt.Errorf("RecordUsage: %w", domain.NewCouponError(c.Code, domain.CouponReasonCustomerLimit))
		}
	}

	u := &domain.CouponUsage{
		ID:             uuid.New(),
		CouponID:       c.ID,
		CustomerID:     customerID,
		OrderID:        orderID,
		DiscountAmount: discount,
		CreatedAt:      e.now(),
	}
	if err := e.coupons.CreateUsage(ctx, tx, u); err != nil {
		return nil, fmt.Errorf("RecordUsage: %w", err)
	}
	if err := e.coupons.IncrementUsage(ctx, tx, c.ID); err != nil {
		return nil, fmt.Errorf("RecordUsage: %w", err)
	}
	return u, nil
}

// VoidUsage removes the order's coupon usage and gives the use back. It
// reports false when the order had no usage.
func (e *Engine) VoidUsage(ctx context.Context, tx *sql.Tx, orderID int64) (bool, error) {
	u, err := e.coupons.DeleteUsageByOrder(ctx, tx, orderID)
	if err != nil {
		return false, fmt.Errorf("VoidUsage: %w", err)
	}
	if u == nil {
		return false, nil
	}
	if err := e.coupons.DecrementUsage(ctx, tx, u.CouponID); err != nil {
		return false, fmt.Errorf("VoidUsage: %w", err)
	}
	logging.FromContext(ctx).Info("coupon usage voided",
		"order_id", orderID,
		"coupon_id", u.CouponID,
	)
	return true, nil
}
