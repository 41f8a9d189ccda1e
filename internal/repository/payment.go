package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const paymentColumns = `id, order_id, provider, status, amount, refunded_amount, currency,
	gateway_id, gateway_transaction_id, checkout_url, idempotency_key,
	failure_reason, metadata, created_at, updated_at, completed_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (
			id, order_id, provider, status, amount, refunded_amount, currency,
			gateway_id, gateway_transaction_id, checkout_url, idempotency_key,
			failure_reason, metadata, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.OrderID, p.Provider, p.Status, p.Amount, p.RefundedAmount, p.Currency,
		p.GatewayID, p.GatewayTransactionID, p.CheckoutURL, p.IdempotencyKey,
		p.FailureReason, jsonText(p.Metadata), p.CreatedAt, p.UpdatedAt, p.CompletedAt,
	)
	if err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByGatewayID(ctx context.Context, provider domain.PaymentProvider, gatewayID string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider = $1 AND gateway_id = $2`,
		provider, gatewayID,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByGatewayID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByGatewayID: %w", err)
	}
	return p, nil
}

// GetLatestForOrder returns the most recent payment attempt for an order.
func (r *PaymentRepository) GetLatestForOrder(ctx context.Context, q Querier, orderID int64) (*domain.Payment, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1`, orderID,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetLatestForOrder: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetLatestForOrder: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) Update(ctx context.Context, q Querier, p *domain.Payment) error {
	res, err := q.ExecContext(ctx,
		`UPDATE payments SET
			status = $1, refunded_amount = $2, gateway_id = $3, gateway_transaction_id = $4,
			checkout_url = $5, failure_reason = $6, metadata = $7, completed_at = $8,
			updated_at = $9
		WHERE id = $10`,
		p.Status, p.RefundedAmount, p.GatewayID, p.GatewayTransactionID,
		p.CheckoutURL, p.FailureReason, jsonText(p.Metadata), p.CompletedAt,
		p.UpdatedAt, p.ID,
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

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var metadata *[]byte
	err := s.Scan(
		&p.ID, &p.OrderID, &p.Provider, &p.Status, &p.Amount, &p.RefundedAmount, &p.Currency,
		&p.GatewayID, &p.GatewayTransactionID, &p.CheckoutURL, &p.IdempotencyKey,
		&p.FailureReason, &metadata, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata != nil {
		p.Metadata = *metadata
	}
	return &p, nil
}
