package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusProcessing      OrderStatus = "processing"
	OrderStatusPendingRetry    OrderStatus = "pending_retry"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusFailed          OrderStatus = "failed"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusAwaitingPayment, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusAwaitingPayment: {OrderStatusProcessing, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusProcessing:      {OrderStatusCompleted, OrderStatusPendingRetry},
	OrderStatusPendingRetry:    {OrderStatusProcessing, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusCompleted:       nil,
	OrderStatusFailed:          nil,
	OrderStatusCancelled:       nil,
}

func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	return s.IsValid() && len(orderTransitions[s]) == 0
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type OrderPaymentStatus string

const (
	OrderPaymentUnpaid   OrderPaymentStatus = "unpaid"
	OrderPaymentPaid     OrderPaymentStatus = "paid"
	OrderPaymentFailed   OrderPaymentStatus = "failed"
	OrderPaymentRefunded OrderPaymentStatus = "refunded"
)

type Order struct {
	ID                int64
	UUID              uuid.UUID
	CustomerID        uuid.UUID
	PackageID         uuid.UUID
	Status            OrderStatus
	PaymentStatus     OrderPaymentStatus
	Type              CustomerType
	Currency          string
	Subtotal          decimal.Decimal
	DiscountAmount    decimal.Decimal
	Amount            decimal.Decimal
	CostPrice         decimal.Decimal
	CouponID          *uuid.UUID
	RetryCount        int
	MaxRetries        int
	NextRetryAt       *time.Time
	ClaimedUntil      *time.Time
	FailureReason     *string
	FailureCode       *string
	ProviderReference *string
	ActivationCode    *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

func (o *Order) CanRetry() bool {
	return o.RetryCount < o.MaxRetries
}

func (o *Order) BalanceSettled() bool {
	return o.Type == CustomerTypeB2B
}
