package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "created"
	OrderEventTransitioned  OrderEventType = "transitioned"
	OrderEventAttemptFailed OrderEventType = "attempt_failed"
	OrderEventRefunded      OrderEventType = "refunded"
)

// OrderEvent is one entry of an order's durable event log. Seq is dense per
// order starting at 1.
type OrderEvent struct {
	ID         uuid.UUID
	OrderID    int64
	Seq        int
	EventType  OrderEventType
	FromStatus *OrderStatus
	ToStatus   OrderStatus
	Actor      string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// OrderSnapshot is the mutable order state recorded with every event so the
// log alone is enough to rebuild an order.
type OrderSnapshot struct {
	Status        OrderStatus        `json:"status"`
	PaymentStatus OrderPaymentStatus `json:"payment_status"`
	RetryCount    int                `json:"retry_count"`
	NextRetryAt   *time.Time         `json:"next_retry_at,omitempty"`
	FailureReason *string            `json:"failure_reason,omitempty"`
	FailureCode   *string            `json:"failure_code,omitempty"`
	ProviderRef   *string            `json:"provider_reference,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

func SnapshotOf(o *Order) OrderSnapshot {
	return OrderSnapshot{
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		RetryCount:    o.RetryCount,
		NextRetryAt:   o.NextRetryAt,
		FailureReason: o.FailureReason,
		FailureCode:   o.FailureCode,
		ProviderRef:   o.ProviderReference,
		CompletedAt:   o.CompletedAt,
	}
}

func (s OrderSnapshot) ApplyTo(o *Order) {
	o.Status = s.Status
	o.PaymentStatus = s.PaymentStatus
	o.RetryCount = s.RetryCount
	o.NextRetryAt = s.NextRetryAt
	o.FailureReason = s.FailureReason
	o.FailureCode = s.FailureCode
	o.ProviderReference = s.ProviderRef
	o.CompletedAt = s.CompletedAt
}
