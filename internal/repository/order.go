package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const orderColumns = `id, uuid, customer_id, package_id, status, payment_status, type,
	currency, subtotal, discount_amount, amount, cost_price, coupon_id,
	retry_count, max_retries, next_retry_at, claimed_until, failure_reason,
	failure_code, provider_reference, activation_code, created_at, updated_at,
	completed_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts o and sets o.ID from the generated sequence.
func (r *OrderRepository) Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (
			uuid, customer_id, package_id, status, payment_status, type,
			currency, subtotal, discount_amount, amount, cost_price, coupon_id,
			retry_count, max_retries, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		o.UUID, o.CustomerID, o.PackageID, o.Status, o.PaymentStatus, o.Type,
		o.Currency, o.Subtotal, o.DiscountAmount, o.Amount, o.CostPrice, o.CouponID,
		o.RetryCount, o.MaxRetries, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, q Querier, id int64) (*domain.Order, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE uuid = $1`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByUUID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByUUID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return o, nil
}

// Update persists every field the fulfillment machine may change.
func (r *OrderRepository) Update(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET
			status = $1, payment_status = $2, retry_count = $3, next_retry_at = $4,
			claimed_until = $5, failure_reason = $6, failure_code = $7,
			provider_reference = $8, activation_code = $9, completed_at = $10,
			updated_at = $11
		WHERE id = $12`,
		o.Status, o.PaymentStatus, o.RetryCount, o.NextRetryAt,
		o.ClaimedUntil, o.FailureReason, o.FailureCode,
		o.ProviderReference, o.ActivationCode, o.CompletedAt,
		o.UpdatedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %w", domain.ErrNotFound)
	}
	return nil
}

// ClaimDueRetries marks up to limit orders as claimed until the given time
// and returns their ids. It picks up pending_retry orders that are due and
// still have retries left, and processing orders whose attempt died without
// recording an outcome: an expired lease, or no lease at all for longer than
// one lease period. Rows locked by another scheduler are skipped.
func (r *OrderRepository) ClaimDueRetries(ctx context.Context, now, until time.Time, limit int) ([]int64, error) {
	stale := now.Add(-until.Sub(now))
	rows, err := r.db.QueryContext(ctx,
		`UPDATE orders SET claimed_until = $2
		WHERE id IN (
			SELECT id FROM orders
			WHERE (status = $3 AND next_retry_at <= $1 AND retry_count < max_retries
					AND (claimed_until IS NULL OR claimed_until < $1))
				OR (status = $5 AND (claimed_until < $1 OR (claimed_until IS NULL AND updated_at < $6)))
			ORDER BY COALESCE(next_retry_at, claimed_until, updated_at)
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		now, until, domain.OrderStatusPendingRetry, limit, domain.OrderStatusProcessing, stale,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimDueRetries: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ClaimDueRetries: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimDueRetries: rows: %w", err)
	}
	return ids, nil
}

func (r *OrderRepository) ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM orders WHERE status = $1 AND created_at < $2
		ORDER BY created_at LIMIT $3`,
		domain.OrderStatusAwaitingPayment, olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListAwaitingPayment: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListAwaitingPayment: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAwaitingPayment: rows: %w", err)
	}
	return ids, nil
}

// CountPrior counts the customer's orders that did not end in failure or
// cancellation.
func (r *OrderRepository) CountPrior(ctx context.Context, customerID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE customer_id = $1 AND status NOT IN ($2, $3)`,
		customerID, domain.OrderStatusFailed, domain.OrderStatusCancelled,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountPrior: %w", err)
	}
	return n, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var couponID uuid.NullUUID
	err := s.Scan(
		&o.ID, &o.UUID, &o.CustomerID, &o.PackageID, &o.Status, &o.PaymentStatus, &o.Type,
		&o.Currency, &o.Subtotal, &o.DiscountAmount, &o.Amount, &o.CostPrice, &couponID,
		&o.RetryCount, &o.MaxRetries, &o.NextRetryAt, &o.ClaimedUntil, &o.FailureReason,
		&o.FailureCode, &o.ProviderReference, &o.ActivationCode, &o.CreatedAt, &o.UpdatedAt,
		&o.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if couponID.Valid {
		o.CouponID = &couponID.UUID
	}
	return &o, nil
}
