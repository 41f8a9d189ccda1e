package gateway

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/ledger"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

type balanceCreditor interface {
	Credit(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, amount decimal.Decimal, kind domain.BalanceTransactionType, ref ledger.Ref) (*domain.BalanceTransaction, error)
}

type orderReader interface {
	GetByID(ctx context.Context, q repository.Querier, id int64) (*domain.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// BalanceProvider settles against the customer's prepaid balance. The debit
// itself happens in the checkout transaction, so checkout sessions are
// immediately successful.
type BalanceProvider struct {
	ledger balanceCreditor
	orders orderReader
	db     txRunner
}

func NewBalanceProvider(l balanceCreditor, orders orderReader, db txRunner) *BalanceProvider {
	return &BalanceProvider{ledger: l, orders: orders, db: db}
}

func (p *BalanceProvider) Name() domain.PaymentProvider { return domain.ProviderBalance }

func (p *BalanceProvider) CreateCheckout(_ context.Context, req CheckoutRequest) (*Session, error) {
	return &Session{
		GatewayID: "bal_" + req.PaymentID.String(),
		Status:    domain.PaymentStatusSucceeded,
	}, nil
}

func (p *BalanceProvider) ValidatePayment(_ context.Context, payment *domain.Payment) (*Validation, error) {
	return &Validation{
		Success:       true,
		Status:        domain.PaymentStatusSucceeded,
		TransactionID: payment.ID.String(),
		Amount:        payment.Amount,
	}, nil
}

func (p *BalanceProvider) Refund(ctx context.Context, payment *domain.Payment, amount decimal.Decimal) (*RefundResult, error) {
	var res *RefundResult
	err := p.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = p.RefundTx(ctx, tx, payment, amount)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("BalanceProvider.Refund: %w", err)
	}
	return res, nil
}

// RefundTx credits amount back to the order's customer inside tx.
func (p *BalanceProvider) RefundTx(ctx context.Context, tx *sql.Tx, payment *domain.Payment, amount decimal.Decimal) (*RefundResult, error) {
	order, err := p.orders.GetByID(ctx, tx, payment.OrderID)
	if err != nil {
		return nil, fmt.Errorf("RefundTx: %w", err)
	}
	txn, err := p.ledger.Credit(ctx, tx, order.CustomerID, amount, domain.BalanceTxRefund, ledger.Ref{
		OrderID:     &order.ID,
		Description: fmt.Sprintf("refund for order %s", order.UUID),
	})
	if err != nil {
		return nil, fmt.Errorf("RefundTx: %w", err)
	}
	return &RefundResult{
		RefundID: txn.ID.String(),
		Amount:   amount,
		Status:   domain.PaymentStatusRefunded,
	}, nil
}
