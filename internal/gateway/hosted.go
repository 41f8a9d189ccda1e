package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

// Vocabulary maps a gateway's own status strings onto payment statuses.
// Lookups are case-insensitive.
type Vocabulary map[string]domain.PaymentStatus

var CardVocabulary = Vocabulary{
	"succeeded":       domain.PaymentStatusSucceeded,
	"paid":            domain.PaymentStatusSucceeded,
	"processing":      domain.PaymentStatusPending,
	"requires_action": domain.PaymentStatusPending,
	"open":            domain.PaymentStatusPending,
	"canceled":        domain.PaymentStatusFailed,
	"expired":         domain.PaymentStatusFailed,
	"failed":          domain.PaymentStatusFailed,
	"refunded":        domain.PaymentStatusRefunded,
}

var BankVocabulary = Vocabulary{
	"SETTLED":    domain.PaymentStatusSucceeded,
	"COMPLETED":  domain.PaymentStatusSucceeded,
	"PENDING":    domain.PaymentStatusPending,
	"PROCESSING": domain.PaymentStatusPending,
	"REJECTED":   domain.PaymentStatusFailed,
	"CANCELLED":  domain.PaymentStatusFailed,
	"EXPIRED":    domain.PaymentStatusFailed,
}

// Normalize returns the shared status for raw. Unknown values are treated as
// still pending so that an unexpected status never completes an order.
func (v Vocabulary) Normalize(raw string) domain.PaymentStatus {
	if s, ok := v[raw]; ok {
		return s
	}
	for k, s := range v {
		if strings.EqualFold(k, raw) {
			return s
		}
	}
	return domain.PaymentStatusPending
}

type HostedConfig struct {
	Kind       domain.PaymentProvider
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Vocabulary Vocabulary
	// Webhooks is true for gateways that push status changes; the others
	// are polled.
	Webhooks bool
}

// HostedProvider talks JSON over HTTP to an external payment page provider.
type HostedProvider struct {
	cfg        HostedConfig
	httpClient *http.Client
}

func NewHostedProvider(cfg HostedConfig) *HostedProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HostedProvider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p *HostedProvider) Name() domain.PaymentProvider { return p.cfg.Kind }

type checkoutPayload struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email,omitempty"`
	Description string `json:"description,omitempty"`
	ReturnURL   string `json:"return_url,omitempty"`
}

type checkoutResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

func (p *HostedProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error) {
	payload := checkoutPayload{
		Reference:   req.PaymentID.String(),
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Email:       req.Email,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
	}
	var resp checkoutResponse
	if err := p.do(ctx, "CreateCheckout", http.MethodPost, "/checkouts", req.IdempotencyKey, payload, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, &domain.GatewayError{Op: "CreateCheckout", Err: fmt.Errorf("response missing checkout id")}
	}
	return &Session{
		GatewayID:   resp.ID,
		CheckoutURL: resp.URL,
		Status:      p.cfg.Vocabulary.Normalize(resp.Status),
	}, nil
}

type paymentResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Amount        string            `json:"amount"`
	TransactionID string            `json:"transaction_id"`
	Metadata      map[string]string `json:"metadata"`
}

func (p *HostedProvider) ValidatePayment(ctx context.Context, payment *domain.Payment) (*Validation, error) {
	if payment.GatewayID == nil || *payment.GatewayID == "" {
		return nil, &domain.GatewayError{Op: "ValidatePayment", Err: fmt.Errorf("payment %s has no gateway id", payment.ID)}
	}
	var resp paymentResponse
	if err := p.do(ctx, "ValidatePayment", http.MethodGet, "/payments/"+*payment.GatewayID, "", nil, &resp); err != nil {
		return nil, err
	}

	status := p.cfg.Vocabulary.Normalize(resp.Status)
	amount := payment.Amount
	if resp.Amount != "" {
		parsed, err := decimal.NewFromString(resp.Amount)
		if err != nil {
			return nil, &domain.GatewayError{Op: "ValidatePayment", Err: fmt.Errorf("amount %q: %w", resp.Amount, err)}
		}
		amount = parsed
	}

	v := &Validation{
		Success:       status == domain.PaymentStatusSucceeded,
		Status:        status,
		TransactionID: resp.TransactionID,
		Amount:        amount,
		Metadata:      resp.Metadata,
	}
	if v.Success && !amount.Equal(payment.Amount) {
		logging.FromContext(ctx).Error("gateway amount mismatch",
			"payment_id", payment.ID,
			"expected", payment.Amount.StringFixed(2),
			"reported", amount.StringFixed(2),
		)
		v.Success = false
		v.Status = domain.PaymentStatusFailed
	}
	return v, nil
}

type refundPayload struct {
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *HostedProvider) Refund(ctx context.Context, payment *domain.Payment, amount decimal.Decimal) (*RefundResult, error) {
	if payment.GatewayID == nil {
		return nil, &domain.GatewayError{Op: "Refund", Err: fmt.Errorf("payment %s has no gateway id", payment.ID)}
	}
	key := fmt.Sprintf("refund-%s-%s", payment.ID, payment.RefundedAmount.Add(amount).StringFixed(2))
	var resp refundResponse
	err := p.do(ctx, "Refund", http.MethodPost, "/refunds", key,
		refundPayload{PaymentID: *payment.GatewayID, Amount: amount.StringFixed(2)}, &resp)
	if err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: resp.ID, Amount: amount, Status: domain.PaymentStatusRefunded}, nil
}

type webhookBody struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	GatewayID string `json:"gateway_id"`
	Status    string `json:"status"`
}

func (p *HostedProvider) ParseWebhook(body []byte) (*WebhookNotice, error) {
	if !p.cfg.Webhooks {
		return nil, fmt.Errorf("ParseWebhook: %w: %s does not send webhooks", domain.ErrUnknownProvider, p.cfg.Kind)
	}
	var b webhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("ParseWebhook: %w: %w", domain.ErrValidation, err)
	}
	if b.EventID == "" || b.GatewayID == "" {
		return nil, fmt.Errorf("ParseWebhook: %w: event_id and gateway_id are required", domain.ErrValidation)
	}
	return &WebhookNotice{
		EventID:   b.EventID,
		EventType: b.Type,
		GatewayID: b.GatewayID,
		Status:    p.cfg.Vocabulary.Normalize(b.Status),
	}, nil
}

func (p *HostedProvider) do(ctx context.Context, op, method, path, idempotencyKey string, in, out any) error {
	log := logging.FromContext(ctx)

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Warn("gateway request failed", "provider", p.cfg.Kind, "op", op, "error", err)
		return ClassifyTransport(op, err)
	}
	defer resp.Body.Close()

	log.Info("gateway response received",
		"provider", p.cfg.Kind,
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ClassifyStatus(op, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.GatewayError{Op: op, Transient: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
