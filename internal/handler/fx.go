package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/fx"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

type fxService interface {
	GetRate(ctx context.Context, to string) (*fx.Quote, error)
	Convert(ctx context.Context, amount decimal.Decimal, to string) (*fx.Conversion, error)
}

type FXHandler struct {
	fx fxService
}

func NewFXHandler(fxSvc fxService) *FXHandler {
	return &FXHandler{fx: fxSvc}
}

type fxQuoteResponse struct {
	FromCurrency    string `json:"from_currency"`
	ToCurrency      string `json:"to_currency"`
	Rate            string `json:"rate"`
	Amount          string `json:"amount,omitempty"`
	ConvertedAmount string `json:"converted_amount,omitempty"`
	FetchedAt       string `json:"fetched_at"`
}

// GetRate serves display-only conversions out of the settlement currency.
func (h *FXHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	to := strings.ToUpper(r.URL.Query().Get("to"))
	rawAmount := r.URL.Query().Get("amount")

	var fields []FieldError
	if len(to) != 3 {
		fields = append(fields, FieldError{Field: "to", Message: "must be a 3-letter currency code"})
	}
	var amount decimal.Decimal
	if rawAmount != "" {
		var err error
		if amount, err = decimal.NewFromString(rawAmount); err != nil || amount.IsNegative() {
			fields = append(fields, FieldError{Field: "amount", Message: "must be a non-negative decimal"})
		}
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	quote, err := h.fx.GetRate(r.Context(), to)
	if err != nil {
		logging.FromContext(r.Context()).Warn("fx rate lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	resp := fxQuoteResponse{
		FromCurrency: quote.From,
		ToCurrency:   quote.To,
		Rate:         quote.Rate.String(),
		FetchedAt:    quote.FetchedAt.UTC().Format(time.RFC3339),
	}
	if rawAmount != "" {
		conv, err := h.fx.Convert(r.Context(), amount, to)
		if err != nil {
			RespondDomainError(w, err)
			return
		}
		resp.Amount = amount.StringFixed(2)
		resp.ConvertedAmount = conv.Amount.StringFixed(2)
	}
	RespondSuccess(w, http.StatusOK, resp)
}
