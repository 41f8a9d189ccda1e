package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationQueued    NotificationStatus = "queued"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)

const (
	TemplateOrderConfirmed = "order_confirmed"
	TemplateOrderCompleted = "order_completed"
	TemplateOrderFailed    = "order_failed"
	TemplateOrderCancelled = "order_cancelled"
	TemplateTopUpReceived  = "top_up_received"
)

type Notification struct {
	ID            uuid.UUID
	DedupeKey     string
	Template      string
	Recipient     string
	Payload       json.RawMessage
	Status        NotificationStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
