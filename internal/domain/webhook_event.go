package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventStatusPending    WebhookEventStatus = "pending"
	WebhookEventStatusDispatched WebhookEventStatus = "dispatched"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
)

// WebhookEvent is an inbound gateway notification stored before processing.
// IdempotencyKey is the gateway's own event id.
type WebhookEvent struct {
	ID             uuid.UUID
	Provider       PaymentProvider
	IdempotencyKey string
	EventType      string
	GatewayID      string
	Payload        json.RawMessage
	Status         WebhookEventStatus
	Attempts       int
	LastAttempt    *time.Time
	CreatedAt      time.Time
}
