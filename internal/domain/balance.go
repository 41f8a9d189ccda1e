package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BalanceAccount struct {
	CustomerID uuid.UUID
	Balance    decimal.Decimal
	Reserved   decimal.Decimal
	UpdatedAt  time.Time
}

func (a *BalanceAccount) Available() decimal.Decimal {
	return a.Balance.Sub(a.Reserved)
}

type BalanceTransactionType string

const (
	BalanceTxTopUp              BalanceTransactionType = "top_up"
	BalanceTxPurchase           BalanceTransactionType = "purchase"
	BalanceTxReservation        BalanceTransactionType = "reservation"
	BalanceTxReservationRelease BalanceTransactionType = "reservation_release"
	BalanceTxRefund             BalanceTransactionType = "refund"
	BalanceTxAdjustment         BalanceTransactionType = "adjustment"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// BalanceSign is the effect of a transaction on the balance column:
// +1 adds amount, -1 subtracts it, 0 leaves the balance untouched.
func (t BalanceTransactionType) BalanceSign(dir Direction) int {
	switch t {
	case BalanceTxTopUp, BalanceTxRefund:
		return 1
	case BalanceTxPurchase:
		return -1
	case BalanceTxAdjustment:
		if dir == DirectionDebit {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// ReservedSign is the effect of a transaction on the reserved column.
func (t BalanceTransactionType) ReservedSign(fromReservation bool) int {
	switch t {
	case BalanceTxReservation:
		return 1
	case BalanceTxReservationRelease:
		return -1
	case BalanceTxPurchase:
		if fromReservation {
			return -1
		}
	}
	return 0
}

// BalanceTransaction is an immutable ledger row. It is never updated or
// deleted once written.
type BalanceTransaction struct {
	ID             uuid.UUID
	CustomerID     uuid.UUID
	Type           BalanceTransactionType
	Direction      Direction
	Amount         decimal.Decimal
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	ReservedBefore decimal.Decimal
	ReservedAfter  decimal.Decimal
	OrderID        *int64
	Description    string
	CreatedAt      time.Time
}
