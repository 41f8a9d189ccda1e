package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const balanceTxColumns = `id, customer_id, type, direction, amount,
	balance_before, balance_after, reserved_before, reserved_after,
	order_id, description, created_at`

// BalanceRepository is the only writer of balance_accounts and
// balance_transactions. It is used exclusively by the ledger.
type BalanceRepository struct {
	db *sql.DB
}

func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// GetForUpdate locks the customer's balance row for the rest of tx, creating
// an empty account on first use.
func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, customerID uuid.UUID) (*domain.BalanceAccount, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balance_accounts (customer_id) VALUES ($1)
		ON CONFLICT (customer_id) DO NOTHING`, customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: ensure: %w", err)
	}

	var a domain.BalanceAccount
	err = tx.QueryRowContext(ctx,
		`SELECT customer_id, balance, reserved, updated_at FROM balance_accounts
		WHERE customer_id = $1 FOR UPDATE`, customerID,
	).Scan(&a.CustomerID, &a.Balance, &a.Reserved, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return &a, nil
}

func (r *BalanceRepository) Get(ctx context.Context, customerID uuid.UUID) (*domain.BalanceAccount, error) {
	var a domain.BalanceAccount
	err := r.db.QueryRowContext(ctx,
		`SELECT customer_id, balance, reserved, updated_at FROM balance_accounts
		WHERE customer_id = $1`, customerID,
	).Scan(&a.CustomerID, &a.Balance, &a.Reserved, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.BalanceAccount{CustomerID: customerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &a, nil
}

func (r *BalanceRepository) Update(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, balance, reserved decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE balance_accounts SET balance = $1, reserved = $2, updated_at = now()
		WHERE customer_id = $3`,
		balance, reserved, customerID,
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

func (r *BalanceRepository) CreateTransaction(ctx context.Context, tx *sql.Tx, t *domain.BalanceTransaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balance_transactions (
			id, customer_id, type, direction, amount,
			balance_before, balance_after, reserved_before, reserved_after,
			order_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.CustomerID, t.Type, t.Direction, t.Amount,
		t.BalanceBefore, t.BalanceAfter, t.ReservedBefore, t.ReservedAfter,
		t.OrderID, t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateTransaction: %w", err)
	}
	return nil
}

func (r *BalanceRepository) ListTransactions(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]domain.BalanceTransaction, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM balance_transactions WHERE customer_id = $1`, customerID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListTransactions: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+balanceTxColumns+` FROM balance_transactions
		WHERE customer_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		customerID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListTransactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.BalanceTransaction
	for rows.Next() {
		t, err := scanBalanceTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListTransactions: scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListTransactions: rows: %w", err)
	}
	return txns, total, nil
}

// SumForOrder totals the amounts of one transaction type recorded against an
// order. Used to bound refunds.
func (r *BalanceRepository) SumForOrder(ctx context.Context, q Querier, orderID int64, typ domain.BalanceTransactionType) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM balance_transactions
		WHERE order_id = $1 AND type = $2`, orderID, typ,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumForOrder: %w", err)
	}
	return sum, nil
}

func scanBalanceTransaction(s scanner) (*domain.BalanceTransaction, error) {
	var t domain.BalanceTransaction
	var orderID sql.NullInt64
	err := s.Scan(
		&t.ID, &t.CustomerID, &t.Type, &t.Direction, &t.Amount,
		&t.BalanceBefore, &t.BalanceAfter, &t.ReservedBefore, &t.ReservedAfter,
		&orderID, &t.Description, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		t.OrderID = &orderID.Int64
	}
	return &t, nil
}
