package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentProvider string

const (
	ProviderBalance      PaymentProvider = "balance"
	ProviderCard         PaymentProvider = "card"
	ProviderBankTransfer PaymentProvider = "bank_transfer"
)

func (p PaymentProvider) IsValid() bool {
	switch p {
	case ProviderBalance, ProviderCard, ProviderBankTransfer:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
)

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

type Payment struct {
	ID                   uuid.UUID
	OrderID              int64
	Provider             PaymentProvider
	Status               PaymentStatus
	Amount               decimal.Decimal
	RefundedAmount       decimal.Decimal
	Currency             string
	GatewayID            *string
	GatewayTransactionID *string
	CheckoutURL          *string
	IdempotencyKey       string
	FailureReason        *string
	Metadata             json.RawMessage
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
}

func (p *Payment) Refundable() decimal.Decimal {
	if p.Status != PaymentStatusSucceeded && p.Status != PaymentStatusPartiallyRefunded {
		return decimal.Zero
	}
	return p.Amount.Sub(p.RefundedAmount)
}
