package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// RespondDomainError maps a service error onto the API error envelope.
// Coupon rejections carry their reason in details.
func RespondDomainError(w http.ResponseWriter, err error) {
	appErr, details := classify(err)
	if appErr == ErrInternalError {
		slog.Error("unhandled domain error", "error", err)
	}
	RespondAppError(w, appErr, details)
}

func classify(err error) (*AppError, any) {
	switch {
	case errors.Is(err, domain.ErrCouponInvalid):
		reason, _ := domain.CouponReasonOf(err)
		return ErrCouponInvalid, map[string]string{"reason": string(reason)}
	case errors.Is(err, domain.ErrInsufficientBalance):
		return ErrInsufficientBalance, nil
	case errors.Is(err, domain.ErrPackageUnavailable):
		return ErrPackageUnavailable, nil
	case errors.Is(err, domain.ErrCustomerNotFound):
		return ErrCustomerNotFound, nil
	case errors.Is(err, domain.ErrNotFound):
		return ErrResourceNotFound, nil
	case errors.Is(err, domain.ErrUnknownProvider):
		return ErrUnknownProvider, nil
	case errors.Is(err, domain.ErrDuplicateCheckout):
		return ErrDuplicateCheckout, nil
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrOrderNotRetryable):
		return ErrIllegalTransition, nil
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrAttemptInFlight):
		return ErrConcurrencyConflict, nil
	case errors.Is(err, domain.ErrGateway):
		return ErrPaymentDeclined, nil
	case errors.Is(err, domain.ErrValidation):
		return ErrValidationFailed, []FieldError{{Message: err.Error()}}
	default:
		return ErrInternalError, nil
	}
}
