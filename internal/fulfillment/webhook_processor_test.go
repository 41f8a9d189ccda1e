package fulfillment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
)

type memInbox struct {
	events    []domain.WebhookEvent
	updateErr error
}

func (m *memInbox) ClaimPending(_ context.Context, limit int) ([]domain.WebhookEvent, error) {
	var out []domain.WebhookEvent
	for i := range m.events {
		if m.events[i].Status == domain.WebhookEventStatusPending && len(out) < limit {
			m.events[i].Attempts++
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *memInbox) UpdateStatus(_ context.Context, id uuid.UUID, status domain.WebhookEventStatus) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

type gatewayIndex map[string]*domain.Payment

func (g gatewayIndex) GetByGatewayID(_ context.Context, _ domain.PaymentProvider, id string) (*domain.Payment, error) {
	p, ok := g[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

type stubProvider struct {
	validation *gateway.Validation
	err        error
}

func (s *stubProvider) Name() domain.PaymentProvider { return domain.ProviderCard }
func (s *stubProvider) CreateCheckout(context.Context, gateway.CheckoutRequest) (*gateway.Session, error) {
	return nil, nil
}
func (s *stubProvider) ValidatePayment(context.Context, *domain.Payment) (*gateway.Validation, error) {
	return s.validation, s.err
}
func (s *stubProvider) Refund(context.Context, *domain.Payment, decimal.Decimal) (*gateway.RefundResult, error) {
	return nil, nil
}
func (s *stubProvider) ParseWebhook(body []byte) (*gateway.WebhookNotice, error) {
	return gateway.NewHostedProvider(gateway.HostedConfig{
		Kind: domain.ProviderCard, Vocabulary: gateway.CardVocabulary, Webhooks: true,
	}).ParseWebhook(body)
}

type registryStub struct{ p *stubProvider }

func (r registryStub) Get(domain.PaymentProvider) (gateway.Provider, error) { return r.p, nil }
func (r registryStub) WebhookParser(domain.PaymentProvider) (gateway.WebhookParser, error) {
	return r.p, nil
}

type recordingOutcomes struct {
	confirmed []int64
	failed    []int64
	kicked    []int64
}

func (r *recordingOutcomes) ConfirmPayment(_ context.Context, id int64, _ *gateway.Validation) (*domain.Order, error) {
	r.confirmed = append(r.confirmed, id)
	return &domain.Order{ID: id}, nil
}
func (r *recordingOutcomes) FailPayment(_ context.Context, id int64, _ string) (*domain.Order, error) {
	r.failed = append(r.failed, id)
	return &domain.Order{ID: id}, nil
}
func (r *recordingOutcomes) Kick(_ context.Context, id int64) { r.kicked = append(r.kicked, id) }

func inboxEvent(body string) domain.WebhookEvent {
	return domain.WebhookEvent{
		ID:             uuid.New(),
		Provider:       domain.ProviderCard,
		IdempotencyKey: uuid.NewString(),
		Payload:        []byte(body),
		Status:         domain.WebhookEventStatusPending,
		CreatedAt:      time.Now(),
	}
}

func TestWebhookProcessor(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		paymentStatus domain.PaymentStatus
		validation    *gateway.Validation
		validateErr   error
		wantStatus    domain.WebhookEventStatus
		wantConfirmed int
		wantFailed    int
	}{
		{
			name:          "verified success confirms and kicks fulfillment",
			body:          `{"event_id":"e1","gateway_id":"cs_1","status":"paid"}`,
			paymentStatus: domain.PaymentStatusPending,
			validation:    &gateway.Validation{Success: true, Status: domain.PaymentStatusSucceeded},
			wantStatus:    domain.WebhookEventStatusDispatched,
			wantConfirmed: 1,
		},
		{
			name:          "webhook claims paid but gateway disagrees",
			body:          `{"event_id":"e2","gateway_id":"cs_1","status":"paid"}`,
			paymentStatus: domain.PaymentStatusPending,
			validation:    &gateway.Validation{Status: domain.PaymentStatusPending},
			wantStatus:    domain.WebhookEventStatusDispatched,
		},
		{
			name:          "verified failure",
			body:          `{"event_id":"e3","gateway_id":"cs_1","status":"failed"}`,
			paymentStatus: domain.PaymentStatusPending,
			validation:    &gateway.Validation{Status: domain.PaymentStatusFailed},
			wantStatus:    domain.WebhookEventStatusDispatched,
			wantFailed:    1,
		},
		{
			name:          "already settled payment",
			body:          `{"event_id":"e4","gateway_id":"cs_1","status":"paid"}`,
			paymentStatus: domain.PaymentStatusSucceeded,
			wantStatus:    domain.WebhookEventStatusDispatched,
		},
		{
			name:       "unknown gateway id",
			body:       `{"event_id":"e5","gateway_id":"cs_missing","status":"paid"}`,
			wantStatus: domain.WebhookEventStatusFailed,
		},
		{
			name:       "malformed payload",
			body:       `{"status":"paid"}`,
			wantStatus: domain.WebhookEventStatusFailed,
		},
		{
			name:          "gateway down leaves event pending",
			body:          `{"event_id":"e6","gateway_id":"cs_1","status":"paid"}`,
			paymentStatus: domain.PaymentStatusPending,
			validateErr:   &domain.GatewayError{Op: "ValidatePayment", Transient: true, Err: errUpstream},
			wantStatus:    domain.WebhookEventStatusPending,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox := &memInbox{events: []domain.WebhookEvent{inboxEvent(tt.body)}}
			payments := gatewayIndex{"cs_1": {ID: uuid.New(), OrderID: 7, Provider: domain.ProviderCard, Status: tt.paymentStatus}}
			outcomes := &recordingOutcomes{}
			p := NewWebhookProcessor(inbox, payments, registryStub{p: &stubProvider{validation: tt.validation, err: tt.validateErr}},
				outcomes, nil, slog.Default(), time.Second)

			p.Poll(context.Background())

			require.Len(t, inbox.events, 1)
			assert.Equal(t, tt.wantStatus, inbox.events[0].Status)
			assert.Len(t, outcomes.confirmed, tt.wantConfirmed)
			assert.Len(t, outcomes.kicked, tt.wantConfirmed)
			assert.Len(t, outcomes.failed, tt.wantFailed)
		})
	}
}

func TestWebhookProcessor_AbandonsAfterMaxAttempts(t *testing.T) {
	ev := inboxEvent(`{"event_id":"e1","gateway_id":"cs_1","status":"paid"}`)
	ev.Attempts = maxWebhookAttempts - 1
	inbox := &memInbox{events: []domain.WebhookEvent{ev}}
	payments := gatewayIndex{"cs_1": {ID: uuid.New(), OrderID: 7, Provider: domain.ProviderCard, Status: domain.PaymentStatusPending}}
	stub := &stubProvider{err: &domain.GatewayError{Op: "ValidatePayment", Transient: true, Err: errUpstream}}
	p := NewWebhookProcessor(inbox, payments, registryStub{p: stub}, &recordingOutcomes{}, nil, slog.Default(), time.Second)

	p.Poll(context.Background())

	assert.Equal(t, domain.WebhookEventStatusFailed, inbox.events[0].Status)
}

func TestWebhookProcessor_LogsWhenAbandonFails(t *testing.T) {
	ev := inboxEvent(`{"event_id":"e1","gateway_id":"cs_1","status":"paid"}`)
	ev.Attempts = maxWebhookAttempts - 1
	inbox := &memInbox{events: []domain.WebhookEvent{ev}, updateErr: errors.New("connection reset")}
	payments := gatewayIndex{"cs_1": {ID: uuid.New(), OrderID: 7, Provider: domain.ProviderCard, Status: domain.PaymentStatusPending}}
	stub := &stubProvider{err: &domain.GatewayError{Op: "ValidatePayment", Transient: true, Err: errUpstream}}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := NewWebhookProcessor(inbox, payments, registryStub{p: stub}, &recordingOutcomes{}, nil, logger, time.Second)

	p.Poll(context.Background())

	out := buf.String()
	assert.Contains(t, out, "failed to mark abandoned webhook event")
	assert.Contains(t, out, "connection reset")
	assert.Equal(t, domain.WebhookEventStatusPending, inbox.events[0].Status)
}
