package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

type webhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
}

type webhookParsers interface {
	WebhookParser(kind domain.PaymentProvider) (gateway.WebhookParser, error)
}

type WebhookHandler struct {
	webhooks webhookEventRepository
	parsers  webhookParsers
	secret   string
}

func NewWebhookHandler(webhooks webhookEventRepository, parsers webhookParsers, secret string) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, parsers: parsers, secret: secret}
}

// Receive stores a signed gateway notification in the inbox. Processing
// happens asynchronously and re-validates the payment with the gateway, so
// the body is only a hint.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := domain.PaymentProvider(r.PathValue("provider"))
	log := logging.FromContext(r.Context()).With("provider", provider)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	parser, err := h.parsers.WebhookParser(provider)
	if err != nil {
		log.Warn("webhook for provider without webhooks", "error", err)
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	notice, err := parser.ParseWebhook(body)
	if err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		if errors.Is(err, domain.ErrValidation) {
			RespondValidationError(w, []FieldError{{Field: "body", Message: err.Error()}})
			return
		}
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		Provider:       provider,
		IdempotencyKey: notice.EventID,
		EventType:      notice.EventType,
		GatewayID:      notice.GatewayID,
		Payload:        body,
		Status:         domain.WebhookEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.webhooks.Create(r.Context(), event); err != nil {
		if repository.IsDuplicateKey(err) {
			log.Info("duplicate webhook received", "provider_event_id", notice.EventID, "gateway_id", notice.GatewayID)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store webhook event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("webhook event stored",
		"webhook_event_id", event.ID,
		"provider_event_id", notice.EventID,
		"gateway_id", notice.GatewayID,
		"event_type", event.EventType,
	)

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
