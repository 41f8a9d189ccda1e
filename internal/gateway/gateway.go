// Package gateway puts the balance pseudo-provider and the hosted payment
// gateways behind one Provider interface and normalizes their status
// vocabularies.
package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

type CheckoutRequest struct {
	OrderID        int64
	OrderUUID      uuid.UUID
	PaymentID      uuid.UUID
	CustomerID     uuid.UUID
	Email          string
	Description    string
	Amount         decimal.Decimal
	Currency       string
	ReturnURL      string
	IdempotencyKey string
}

// Session is a created checkout. Balance payments come back already
// succeeded with no CheckoutURL.
type Session struct {
	GatewayID   string
	CheckoutURL string
	Status      domain.PaymentStatus
}

// Validation is a provider's view of a payment in shared vocabulary.
type Validation struct {
	Success       bool
	Status        domain.PaymentStatus
	TransactionID string
	Amount        decimal.Decimal
	Metadata      map[string]string
}

type RefundResult struct {
	RefundID string
	Amount   decimal.Decimal
	Status   domain.PaymentStatus
}

type Provider interface {
	Name() domain.PaymentProvider
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error)
	ValidatePayment(ctx context.Context, payment *domain.Payment) (*Validation, error)
	Refund(ctx context.Context, payment *domain.Payment, amount decimal.Decimal) (*RefundResult, error)
}

// WebhookNotice is an inbound gateway event reduced to what fulfillment
// needs. It is never trusted on its own: the processor re-validates the
// payment with the gateway.
type WebhookNotice struct {
	EventID   string
	EventType string
	GatewayID string
	Status    domain.PaymentStatus
}

// WebhookParser is implemented by providers that push status changes.
type WebhookParser interface {
	ParseWebhook(body []byte) (*WebhookNotice, error)
}
