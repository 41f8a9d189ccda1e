package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const invoiceColumns = `id, invoice_number, type, customer_id, order_id, payment_id,
	balance_transaction_id, currency, subtotal, discount, total, line_items, issued_at`

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// NextNumber increments and returns the year's counter. The sequence row stays
// locked until tx ends, so numbers are handed out in commit order.
func (r *InvoiceRepository) NextNumber(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`INSERT INTO invoice_sequences (year, last_number) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_number = invoice_sequences.last_number + 1
		RETURNING last_number`, year,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("NextNumber: %w", err)
	}
	return n, nil
}

func (r *InvoiceRepository) Create(ctx context.Context, tx *sql.Tx, inv *domain.Invoice) error {
	items, err := inv.LineItemsJSON()
	if err != nil {
		return fmt.Errorf("Create: line items: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inv.ID, inv.InvoiceNumber, inv.Type, inv.CustomerID, inv.OrderID, inv.PaymentID,
		inv.BalanceTransactionID, inv.Currency, inv.Subtotal, inv.Discount, inv.Total,
		string(items), inv.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id,
	)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return inv, nil
}

func (r *InvoiceRepository) GetPurchaseForOrder(ctx context.Context, q Querier, orderID int64) (*domain.Invoice, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1 AND type = $2`,
		orderID, domain.InvoiceTypePurchase,
	)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetPurchaseForOrder: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetPurchaseForOrder: %w", err)
	}
	return inv, nil
}

func (r *InvoiceRepository) ListNumbersForYear(ctx context.Context, year int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT invoice_number FROM invoices
		WHERE EXTRACT(YEAR FROM issued_at AT TIME ZONE 'UTC') = $1
		ORDER BY invoice_number`, year,
	)
	if err != nil {
		return nil, fmt.Errorf("ListNumbersForYear: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("ListNumbersForYear: scan: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListNumbersForYear: rows: %w", err)
	}
	return numbers, nil
}

func scanInvoice(s scanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var orderID sql.NullInt64
	var paymentID, balanceTxID uuid.NullUUID
	var items []byte
	err := s.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.Type, &inv.CustomerID, &orderID, &paymentID,
		&balanceTxID, &inv.Currency, &inv.Subtotal, &inv.Discount, &inv.Total, &items, &inv.IssuedAt,
	)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		inv.OrderID = &orderID.Int64
	}
	if paymentID.Valid {
		inv.PaymentID = &paymentID.UUID
	}
	if balanceTxID.Valid {
		inv.BalanceTransactionID = &balanceTxID.UUID
	}
	if err := json.Unmarshal(items, &inv.LineItems); err != nil {
		return nil, fmt.Errorf("line_items: %w", err)
	}
	return &inv, nil
}
