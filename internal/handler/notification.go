package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

type outcomeReporter interface {
	ReportOutcome(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, reason string) error
}

type NotificationHandler struct {
	reporter outcomeReporter
	secret   string
}

func NewNotificationHandler(reporter outcomeReporter, secret string) *NotificationHandler {
	return &NotificationHandler{reporter: reporter, secret: secret}
}

type receiptRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (r receiptRequest) Validate() []FieldError {
	switch domain.NotificationStatus(r.Status) {
	case domain.NotificationDelivered, domain.NotificationFailed:
		return nil
	}
	return []FieldError{{Field: "status", Message: "must be delivered or failed"}}
}

// Receipt records a delivery receipt posted back by the notification
// channel. Receipts are signed with the same secret as gateway webhooks.
func (h *NotificationHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	id, appErr := uuidFromPath(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	log := logging.FromContext(r.Context()).With("notification_id", id)

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if !verifyHMAC(body, r.Header.Get("X-Webhook-Signature"), h.secret) {
		log.Warn("receipt signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var req receiptRequest
	if err := json.Unmarshal(body, &req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		RespondValidationError(w, errs)
		return
	}

	if err := h.reporter.ReportOutcome(r.Context(), id, domain.NotificationStatus(req.Status), req.Reason); err != nil {
		log.Warn("delivery receipt rejected", "error", err)
		RespondDomainError(w, err)
		return
	}
	log.Info("delivery receipt recorded", "status", req.Status)
	RespondSuccess(w, http.StatusOK, map[string]string{"status": "recorded"})
}
