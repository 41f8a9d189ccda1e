package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const couponColumns = `id, code, type, value, min_order_amount, customer_types,
	country_ids, provider_ids, package_ids, excluded_package_ids, first_time_only,
	usage_limit, per_customer_limit, usage_count, valid_from, valid_until,
	is_active, created_at`

const couponUsageColumns = `id, coupon_id, customer_id, order_id, discount_amount, created_at`

type CouponRepository struct {
	db *sql.DB
}

func NewCouponRepository(db *sql.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) Create(ctx context.Context, c *domain.Coupon) error {
	customerTypes := make([]string, len(c.CustomerTypes))
	for i, t := range c.CustomerTypes {
		customerTypes[i] = string(t)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO coupons (
			id, code, type, value, min_order_amount, customer_types,
			country_ids, provider_ids, package_ids, excluded_package_ids, first_time_only,
			usage_limit, per_customer_limit, usage_count, valid_from, valid_until,
			is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.Code, c.Type, c.Value, c.MinOrderAmount, pq.Array(customerTypes),
		pq.Array(uuidStrings(c.CountryIDs)), pq.Array(uuidStrings(c.ProviderIDs)),
		pq.Array(uuidStrings(c.PackageIDs)), pq.Array(uuidStrings(c.ExcludedPackageIDs)),
		c.FirstTimeOnly, c.UsageLimit, c.PerCustomerLimit, c.UsageCount,
		c.ValidFrom, c.ValidUntil, c.IsActive, c.CreatedAt,
	)
	if err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("Create: %w: code %s already exists", domain.ErrValidation, c.Code)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code,
	)
	c, err := scanCoupon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByCode: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByCode: %w", err)
	}
	return c, nil
}

func (r *CouponRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Coupon, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE id = $1 FOR UPDATE`, id,
	)
	c, err := scanCoupon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return c, nil
}

func (r *CouponRepository) CountCustomerUsages(ctx context.Context, q Querier, couponID, customerID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND customer_id = $2`,
		couponID, customerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountCustomerUsages: %w", err)
	}
	return n, nil
}

func (r *CouponRepository) CreateUsage(ctx context.Context, tx *sql.Tx, u *domain.CouponUsage) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO coupon_usages (`+couponUsageColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.CouponID, u.CustomerID, u.OrderID, u.DiscountAmount, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateUsage: %w", err)
	}
	return nil
}

// DeleteUsageByOrder removes the order's usage row and returns it, or nil when
// the order has none.
func (r *CouponRepository) DeleteUsageByOrder(ctx context.Context, tx *sql.Tx, orderID int64) (*domain.CouponUsage, error) {
	var u domain.CouponUsage
	err := tx.QueryRowContext(ctx,
		`DELETE FROM coupon_usages WHERE order_id = $1 RETURNING `+couponUsageColumns, orderID,
	).Scan(&u.ID, &u.CouponID, &u.CustomerID, &u.OrderID, &u.DiscountAmount, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("DeleteUsageByOrder: %w", err)
	}
	return &u, nil
}

func (r *CouponRepository) IncrementUsage(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE coupons SET usage_count = usage_count + 1 WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("IncrementUsage: %w", err)
	}
	return nil
}

func (r *CouponRepository) DecrementUsage(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE coupons SET usage_count = GREATEST(usage_count - 1, 0) WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("DecrementUsage: %w", err)
	}
	return nil
}

func scanCoupon(s scanner) (*domain.Coupon, error) {
	var c domain.Coupon
	var customerTypes, countryIDs, providerIDs, packageIDs, excluded pq.StringArray
	var usageLimit, perCustomerLimit sql.NullInt64
	err := s.Scan(
		&c.ID, &c.Code, &c.Type, &c.Value, &c.MinOrderAmount, &customerTypes,
		&countryIDs, &providerIDs, &packageIDs, &excluded, &c.FirstTimeOnly,
		&usageLimit, &perCustomerLimit, &c.UsageCount, &c.ValidFrom, &c.ValidUntil,
		&c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, t := range customerTypes {
		c.CustomerTypes = append(c.CustomerTypes, domain.CustomerType(t))
	}
	if c.CountryIDs, err = parseUUIDs(countryIDs); err != nil {
		return nil, fmt.Errorf("country_ids: %w", err)
	}
	if c.ProviderIDs, err = parseUUIDs(providerIDs); err != nil {
		return nil, fmt.Errorf("provider_ids: %w", err)
	}
	if c.PackageIDs, err = parseUUIDs(packageIDs); err != nil {
		return nil, fmt.Errorf("package_ids: %w", err)
	}
	if c.ExcludedPackageIDs, err = parseUUIDs(excluded); err != nil {
		return nil, fmt.Errorf("excluded_package_ids: %w", err)
	}
	if usageLimit.Valid {
		n := int(usageLimit.Int64)
		c.UsageLimit = &n
	}
	if perCustomerLimit.Valid {
		n := int(perCustomerLimit.Int64)
		c.PerCustomerLimit = &n
	}
	return &c, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
