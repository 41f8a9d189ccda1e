package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

type balanceReader interface {
	Account(ctx context.Context, customerID uuid.UUID) (*domain.BalanceAccount, error)
	History(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]domain.BalanceTransaction, int, error)
}

type BalanceHandler struct {
	ledger balanceReader
}

func NewBalanceHandler(ledger balanceReader) *BalanceHandler {
	return &BalanceHandler{ledger: ledger}
}

type balanceDTO struct {
	CustomerID uuid.UUID `json:"customer_id"`
	Balance    string    `json:"balance"`
	Reserved   string    `json:"reserved"`
	Available  string    `json:"available"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type balanceTransactionDTO struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"`
	Direction     string    `json:"direction"`
	Amount        string    `json:"amount"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	OrderID       *int64    `json:"order_id,omitempty"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

type transactionPage struct {
	Items  []balanceTransactionDTO `json:"items"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, appErr := principalFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	acct, err := h.ledger.Account(r.Context(), p.CustomerID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("balance lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, balanceDTO{
		CustomerID: acct.CustomerID,
		Balance:    acct.Balance.StringFixed(2),
		Reserved:   acct.Reserved.StringFixed(2),
		Available:  acct.Balance.Sub(acct.Reserved).StringFixed(2),
		UpdatedAt:  acct.UpdatedAt,
	})
}

func (h *BalanceHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	p, appErr := principalFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	limit, offset, fields := pagination(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	txns, total, err := h.ledger.History(r.Context(), p.CustomerID, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Warn("balance history failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	page := transactionPage{Items: make([]balanceTransactionDTO, len(txns)), Total: total, Limit: limit, Offset: offset}
	for i, t := range txns {
		page.Items[i] = balanceTransactionDTO{
			ID:            t.ID,
			Type:          string(t.Type),
			Direction:     string(t.Direction),
			Amount:        t.Amount.StringFixed(2),
			BalanceBefore: t.BalanceBefore.StringFixed(2),
			BalanceAfter:  t.BalanceAfter.StringFixed(2),
			OrderID:       t.OrderID,
			Description:   t.Description,
			CreatedAt:     t.CreatedAt,
		}
	}
	RespondSuccess(w, http.StatusOK, page)
}

func pagination(r *http.Request) (limit, offset int, errs []FieldError) {
	limit, offset = 50, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			errs = append(errs, FieldError{Field: "limit", Message: "must be between 1 and 200"})
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, FieldError{Field: "offset", Message: "must be zero or more"})
		}
		offset = n
	}
	return limit, offset, errs
}
