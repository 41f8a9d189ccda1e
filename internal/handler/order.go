package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

type orderReader interface {
	GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type invoiceRenderer interface {
	RenderForOrder(ctx context.Context, q repository.Querier, orderID int64) ([]byte, error)
}

type orderReconciler interface {
	Reconcile(ctx context.Context, orderID int64) (*domain.Order, error)
}

type OrderHandler struct {
	orders     orderReader
	invoices   invoiceRenderer
	reconciler orderReconciler
	reads      repository.Querier
}

func NewOrderHandler(orders orderReader, invoices invoiceRenderer, reconciler orderReconciler, reads repository.Querier) *OrderHandler {
	return &OrderHandler{orders: orders, invoices: invoices, reconciler: reconciler, reads: reads}
}

type orderDTO struct {
	ID                uuid.UUID  `json:"id"`
	PackageID         uuid.UUID  `json:"package_id"`
	Status            string     `json:"status"`
	PaymentStatus     string     `json:"payment_status"`
	Type              string     `json:"type"`
	Currency          string     `json:"currency"`
	Subtotal          string     `json:"subtotal"`
	Discount          string     `json:"discount"`
	Amount            string     `json:"amount"`
	RetryCount        int        `json:"retry_count"`
	MaxRetries        int        `json:"max_retries"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	FailureCode       *string    `json:"failure_code,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	ProviderReference *string    `json:"provider_reference,omitempty"`
	ActivationCode    *string    `json:"activation_code,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func toOrderDTO(o *domain.Order) orderDTO {
	return orderDTO{
		ID:                o.UUID,
		PackageID:         o.PackageID,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		Type:              string(o.Type),
		Currency:          o.Currency,
		Subtotal:          o.Subtotal.StringFixed(2),
		Discount:          o.DiscountAmount.StringFixed(2),
		Amount:            o.Amount.StringFixed(2),
		RetryCount:        o.RetryCount,
		MaxRetries:        o.MaxRetries,
		NextRetryAt:       o.NextRetryAt,
		FailureCode:       o.FailureCode,
		FailureReason:     o.FailureReason,
		ProviderReference: o.ProviderReference,
		ActivationCode:    o.ActivationCode,
		CreatedAt:         o.CreatedAt,
		CompletedAt:       o.CompletedAt,
	}
}

// load resolves the {id} path value to an order the caller owns.
func (h *OrderHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	p, appErr := principalFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return nil, false
	}
	id, appErr := uuidFromPath(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return nil, false
	}

	o, err := h.orders.GetByUUID(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return nil, false
	}
	if appErr := ownedOrder(p, o); appErr != nil {
		RespondAppError(w, appErr, nil)
		return nil, false
	}
	return o, true
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, ok := h.load(w, r)
	if !ok {
		return
	}
	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}

func (h *OrderHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	o, ok := h.load(w, r)
	if !ok {
		return
	}

	doc, err := h.invoices.RenderForOrder(r.Context(), h.reads, o.ID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("invoice render failed", "error", err, "order_id", o.ID)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		logging.FromContext(r.Context()).Error("failed to write invoice", "error", err)
	}
}

// Reconcile asks the gateway for the payment's current status instead of
// waiting for a webhook.
func (h *OrderHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	o, ok := h.load(w, r)
	if !ok {
		return
	}

	updated, err := h.reconciler.Reconcile(r.Context(), o.ID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("reconcile failed", "error", err, "order_id", o.ID)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toOrderDTO(updated))
}
