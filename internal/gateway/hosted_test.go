package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

func newCard(t *testing.T, h http.HandlerFunc) *HostedProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHostedProvider(HostedConfig{
		Kind:       domain.ProviderCard,
		BaseURL:    srv.URL,
		APIKey:     "sk_test",
		Timeout:    time.Second,
		Vocabulary: CardVocabulary,
		Webhooks:   true,
	})
}

func strPtr(s string) *string { return &s }

func TestCreateCheckoutSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	var got checkoutPayload
	p := newCard(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkouts", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_123","url":"https://pay.example/cs_123","status":"open"}`))
	})

	sess, err := p.CreateCheckout(context.Background(), CheckoutRequest{
		PaymentID:      uuid.New(),
		Amount:         decimal.RequireFromString("19.9"),
		Currency:       "EUR",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", sess.GatewayID)
	assert.Equal(t, "https://pay.example/cs_123", sess.CheckoutURL)
	assert.Equal(t, domain.PaymentStatusPending, sess.Status)
	assert.Equal(t, "idem-1", gotKey)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, "19.90", got.Amount)
}

func TestGatewayErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newCard(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := p.CreateCheckout(context.Background(), CheckoutRequest{PaymentID: uuid.New()})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrGateway)
			assert.Equal(t, tt.transient, domain.IsTransient(err))
		})
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	p := NewHostedProvider(HostedConfig{Kind: domain.ProviderCard, BaseURL: srv.URL, Timeout: 50 * time.Millisecond, Vocabulary: CardVocabulary})

	_, err := p.CreateCheckout(context.Background(), CheckoutRequest{PaymentID: uuid.New()})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestCancelledContextIsNotTransient(t *testing.T) {
	p := newCard(t, func(w http.ResponseWriter, _ *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.CreateCheckout(ctx, CheckoutRequest{PaymentID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGateway)
	assert.False(t, domain.IsTransient(err))
}

func TestValidatePayment(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSuccess bool
		wantStatus  domain.PaymentStatus
	}{
		{"paid", `{"id":"cs_1","status":"paid","amount":"10.00","transaction_id":"tx_1"}`, true, domain.PaymentStatusSucceeded},
		{"still open", `{"id":"cs_1","status":"requires_action","amount":"10.00"}`, false, domain.PaymentStatusPending},
		{"expired", `{"id":"cs_1","status":"expired"}`, false, domain.PaymentStatusFailed},
		{"amount mismatch", `{"id":"cs_1","status":"succeeded","amount":"9.99"}`, false, domain.PaymentStatusFailed},
		{"unknown status", `{"id":"cs_1","status":"on_hold"}`, false, domain.PaymentStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newCard(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/payments/cs_1", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})
			v, err := p.ValidatePayment(context.Background(), &domain.Payment{
				ID:        uuid.New(),
				Amount:    decimal.RequireFromString("10.00"),
				GatewayID: strPtr("cs_1"),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, v.Success)
			assert.Equal(t, tt.wantStatus, v.Status)
		})
	}
}

func TestValidatePaymentWithoutGatewayID(t *testing.T) {
	p := newCard(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("gateway must not be called")
	})
	_, err := p.ValidatePayment(context.Background(), &domain.Payment{ID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGateway)
	assert.False(t, domain.IsTransient(err))
}

func TestRefundKeyIsStablePerCumulativeAmount(t *testing.T) {
	var keys []string
	p := newCard(t, func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"id":"re_1","status":"refunded"}`))
	})
	pay := &domain.Payment{ID: uuid.New(), GatewayID: strPtr("cs_1"), Amount: decimal.RequireFromString("10.00")}

	_, err := p.Refund(context.Background(), pay, decimal.RequireFromString("4.00"))
	require.NoError(t, err)
	_, err = p.Refund(context.Background(), pay, decimal.RequireFromString("4.00"))
	require.NoError(t, err)
	pay.RefundedAmount = decimal.RequireFromString("4.00")
	res, err := p.Refund(context.Background(), pay, decimal.RequireFromString("6.00"))
	require.NoError(t, err)

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.NotEqual(t, keys[0], keys[2])
	assert.Equal(t, "re_1", res.RefundID)
}

func TestVocabularies(t *testing.T) {
	assert.Equal(t, domain.PaymentStatusSucceeded, BankVocabulary.Normalize("settled"))
	assert.Equal(t, domain.PaymentStatusFailed, BankVocabulary.Normalize("REJECTED"))
	assert.Equal(t, domain.PaymentStatusPending, BankVocabulary.Normalize("PROCESSING"))
	assert.Equal(t, domain.PaymentStatusSucceeded, CardVocabulary.Normalize("Succeeded"))
	assert.Equal(t, domain.PaymentStatusRefunded, CardVocabulary.Normalize("refunded"))
	assert.Equal(t, domain.PaymentStatusPending, CardVocabulary.Normalize(""))
}

func TestParseWebhook(t *testing.T) {
	p := NewHostedProvider(HostedConfig{Kind: domain.ProviderCard, Vocabulary: CardVocabulary, Webhooks: true})

	n, err := p.ParseWebhook([]byte(`{"event_id":"evt_1","type":"checkout.completed","gateway_id":"cs_1","status":"paid"}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", n.EventID)
	assert.Equal(t, "cs_1", n.GatewayID)
	assert.Equal(t, domain.PaymentStatusSucceeded, n.Status)

	_, err = p.ParseWebhook([]byte(`{"type":"checkout.completed"}`))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = p.ParseWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrValidation)

	bank := NewHostedProvider(HostedConfig{Kind: domain.ProviderBankTransfer, Vocabulary: BankVocabulary})
	_, err = bank.ParseWebhook([]byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}
