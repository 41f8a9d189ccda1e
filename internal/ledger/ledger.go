// Package ledger is the only writer of customer balances. Every mutation locks
// the customer's balance row inside the caller's transaction and appends one
// immutable balance transaction.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/metrics"
)

type balanceStore interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, customerID uuid.UUID) (*domain.BalanceAccount, error)
	Get(ctx context.Context, customerID uuid.UUID) (*domain.BalanceAccount, error)
	Update(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, balance, reserved decimal.Decimal) error
	CreateTransaction(ctx context.Context, tx *sql.Tx, t *domain.BalanceTransaction) error
	ListTransactions(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]domain.BalanceTransaction, int, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// TopUpIssuer issues the receipt for a top-up in the same transaction.
type TopUpIssuer interface {
	IssueForTopUp(ctx context.Context, tx *sql.Tx, txn *domain.BalanceTransaction) (*domain.Invoice, error)
}

// Ref ties a ledger row to the order that caused it, if any.
type Ref struct {
	OrderID     *int64
	Description string
}

type Ledger struct {
	store   balanceStore
	db      txRunner
	issuer  TopUpIssuer
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store balanceStore, db txRunner, issuer TopUpIssuer, m *metrics.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		db:      db,
		issuer:  issuer,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type mutation struct {
	typ             domain.BalanceTransactionType
	dir             domain.Direction
	amount          decimal.Decimal
	fromReservation bool
}

// Reserve holds amount against the customer's available balance.
func (l *Ledger) Reserve(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, amount decimal.Decimal, ref Ref) (*domain.BalanceTransaction, error) {
	t, err := l.apply(ctx, tx, customerID, mutation{
		typ:    domain.BalanceTxReservation,
		dir:    domain.DirectionDebit,
		amount: amount,
	}, ref)
	if err != nil {
		return nil, fmt.Errorf("Reserve: %w", err)
	}
	return t, nil
}

// Deduct takes amount off the balance. With fromReservation it consumes an
// existing hold of at least amount; otherwise it draws on available funds.
func (l *Ledger) Deduct(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, amount decimal.Decimal, fromReservation bool, ref Ref) (*domain.BalanceTransaction, error) {
	t, err := l.apply(ctx, tx, customerID, mutation{
		typ:             domain.BalanceTxPurchase,
		dir:             domain.DirectionDebit,
		amount:          amount,
		fromReservation: fromReservation,
	}, ref)
	if err != nil {
		return nil, fmt.Errorf("Deduct: %w", err)
	}
	return t, nil
}

// Credit records a top-up, a refund or the release of a hold.
func (l *Ledger) Credit(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, amount decimal.Decimal, kind domain.BalanceTransactionType, ref Ref) (*domain.BalanceTransaction, error) {
	switch kind {
	case domain.BalanceTxTopUp, domain.BalanceTxRefund, domain.BalanceTxReservationRelease:
	default:
		return nil, fmt.Errorf("Credit: %w: unsupported credit kind %q", domain.ErrValidation, kind)
	}
	t, err := l.apply(ctx, tx, customerID, mutation{
		typ:    kind,
		dir:    domain.DirectionCredit,
		amount: amount,
	}, ref)
	if err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}
	return t, nil
}

// Adjust applies an administrative correction. A positive delta is recorded as
// a credit and a negative one as a debit.
func (l *Ledger) Adjust(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, delta decimal.Decimal, reason string, ref Ref) (*domain.BalanceTransaction, error) {
	if reason == "" {
		return nil, fmt.Errorf("Adjust: %w: reason is required", domain.ErrValidation)
	}
	dir := domain.DirectionCredit
	if delta.IsNegative() {
		dir = domain.DirectionDebit
	}
	if ref.Description == "" {
		ref.Description = reason
	}
	t, err := l.apply(ctx, tx, customerID, mutation{
		typ:    domain.BalanceTxAdjustment,
		dir:    dir,
		amount: delta.Abs(),
	}, ref)
	if err != nil {
		return nil, fmt.Errorf("Adjust: %w", err)
	}
	return t, nil
}

func (l *Ledger) apply(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, m mutation, ref Ref) (*domain.BalanceTransaction, error) {
	if !domain.ValidAmount(m.amount) {
		return nil, fmt.Errorf("%w: amount must be positive with at most two decimals, got %s", domain.ErrValidation, m.amount)
	}

	acct, err := l.store.GetForUpdate(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}

	balance, reserved, err := next(acct, m)
	if err != nil {
		l.metrics.LedgerOp(string(m.typ), "rejected")
		logging.FromContext(ctx).Info("ledger operation rejected",
			"customer_id", customerID,
			"type", m.typ,
			"amount", m.amount.StringFixed(2),
			"available", acct.Available().StringFixed(2),
			"error", err,
		)
		return nil, err
	}

	if err := l.store.Update(ctx, tx, customerID, balance, reserved); err != nil {
		return nil, err
	}

	t := &domain.BalanceTransaction{
		ID:             uuid.New(),
		CustomerID:     customerID,
		Type:           m.typ,
		Direction:      m.dir,
		Amount:         m.amount,
		BalanceBefore:  acct.Balance,
		BalanceAfter:   balance,
		ReservedBefore: acct.Reserved,
		ReservedAfter:  reserved,
		OrderID:        ref.OrderID,
		Description:    ref.Description,
		CreatedAt:      l.now(),
	}
	if err := l.store.CreateTransaction(ctx, tx, t); err != nil {
		return nil, err
	}

	l.metrics.LedgerOp(string(m.typ), "ok")
	return t, nil
}

// next computes the post-mutation balance and reserved amounts, rejecting any
// mutation that would leave reserved negative, reserved above balance, or
// available below zero.
func next(acct *domain.BalanceAccount, m mutation) (decimal.Decimal, decimal.Decimal, error) {
	available := acct.Available()
	balance, reserved := acct.Balance, acct.Reserved

	switch m.typ {
	case domain.BalanceTxReservation:
		if available.LessThan(m.amount) {
			return balance, reserved, domain.ErrInsufficientBalance
		}
	case domain.BalanceTxPurchase:
		if m.fromReservation {
			if reserved.LessThan(m.amount) {
				return balance, reserved, domain.ErrReservationMissing
			}
		} else if available.LessThan(m.amount) {
			return balance, reserved, domain.ErrInsufficientBalance
		}
	case domain.BalanceTxReservationRelease:
		if reserved.LessThan(m.amount) {
			return balance, reserved, domain.ErrReservationMissing
		}
	case domain.BalanceTxAdjustment:
		if m.dir == domain.DirectionDebit && available.LessThan(m.amount) {
			return balance, reserved, domain.ErrInsufficientBalance
		}
	}

	balance = balance.Add(m.amount.Mul(decimal.NewFromInt(int64(m.typ.BalanceSign(m.dir)))))
	reserved = reserved.Add(m.amount.Mul(decimal.NewFromInt(int64(m.typ.ReservedSign(m.fromReservation)))))
	return balance, reserved, nil
}

// TopUp credits the customer's balance in its own transaction and issues a
// top-up invoice alongside it.
func (l *Ledger) TopUp(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal, description string) (*domain.BalanceTransaction, *domain.Invoice, error) {
	var txn *domain.BalanceTransaction
	var inv *domain.Invoice
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		txn, err = l.Credit(ctx, tx, customerID, amount, domain.BalanceTxTopUp, Ref{Description: description})
		if err != nil {
			return err
		}
		if l.issuer != nil {
			inv, err = l.issuer.IssueForTopUp(ctx, tx, txn)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("TopUp: %w", err)
	}

	logging.FromContext(ctx).Info("balance topped up",
		"customer_id", customerID,
		"amount", amount.StringFixed(2),
		"balance_after", txn.BalanceAfter.StringFixed(2),
	)
	return txn, inv, nil
}

func (l *Ledger) AdjustBalance(ctx context.Context, customerID uuid.UUID, delta decimal.Decimal, reason string) (*domain.BalanceTransaction, error) {
	var txn *domain.BalanceTransaction
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		txn, err = l.Adjust(ctx, tx, customerID, delta, reason, Ref{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("AdjustBalance: %w", err)
	}

	logging.FromContext(ctx).Warn("balance adjusted",
		"customer_id", customerID,
		"delta", delta.StringFixed(2),
		"reason", reason,
	)
	return txn, nil
}

func (l *Ledger) Account(ctx context.Context, customerID uuid.UUID) (*domain.BalanceAccount, error) {
	a, err := l.store.Get(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("Account: %w", err)
	}
	return a, nil
}

func (l *Ledger) History(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]domain.BalanceTransaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	txns, total, err := l.store.ListTransactions(ctx, customerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("History: %w", err)
	}
	return txns, total, nil
}

// StatementIssuer is implemented by issuers that can also summarise a
// period of ledger rows.
type StatementIssuer interface {
	IssueStatement(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, txns []domain.BalanceTransaction) (*domain.Invoice, error)
}

const statementPage = 200

// Statement issues a statement invoice covering every ledger row created at
// or after since, oldest first.
func (l *Ledger) Statement(ctx context.Context, customerID uuid.UUID, since time.Time) (*domain.Invoice, error) {
	issuer, ok := l.issuer.(StatementIssuer)
	if !ok {
		return nil, fmt.Errorf("Statement: issuer cannot issue statements")
	}

	var rows []domain.BalanceTransaction
	for offset := 0; ; offset += statementPage {
		page, _, err := l.store.ListTransactions(ctx, customerID, statementPage, offset)
		if err != nil {
			return nil, fmt.Errorf("Statement: %w", err)
		}
		done := len(page) < statementPage
		for _, t := range page {
			if t.CreatedAt.Before(since) {
				done = true
				break
			}
			rows = append(rows, t)
		}
		if done {
			break
		}
	}
	slices.Reverse(rows)

	var inv *domain.Invoice
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		inv, err = issuer.IssueStatement(ctx, tx, customerID, rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Statement: %w", err)
	}

	logging.FromContext(ctx).Info("statement issued",
		"customer_id", customerID,
		"invoice_number", inv.InvoiceNumber,
		"entries", len(rows),
	)
	return inv, nil
}
