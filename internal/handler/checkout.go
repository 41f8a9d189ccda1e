package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/checkout"
	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

type checkoutService interface {
	CreateCheckout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	PreviewPrice(ctx context.Context, req checkout.Request) (*checkout.Preview, error)
}

type CheckoutHandler struct {
	checkout checkoutService
}

func NewCheckoutHandler(svc checkoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: svc}
}

type checkoutRequest struct {
	PackageID       string `json:"package_id"`
	CouponCode      string `json:"coupon_code"`
	Provider        string `json:"provider"`
	DisplayCurrency string `json:"display_currency"`
	ReturnURL       string `json:"return_url"`
}

func (r checkoutRequest) Validate() []FieldError {
	var errs []FieldError
	if r.PackageID == "" {
		errs = append(errs, FieldError{Field: "package_id", Message: "required"})
	} else if _, err := uuid.Parse(r.PackageID); err != nil {
		errs = append(errs, FieldError{Field: "package_id", Message: "must be a valid UUID"})
	}
	if r.Provider != "" && !domain.PaymentProvider(r.Provider).IsValid() {
		errs = append(errs, FieldError{Field: "provider", Message: "must be balance, card, or bank_transfer"})
	}
	if r.DisplayCurrency != "" && len(r.DisplayCurrency) != 3 {
		errs = append(errs, FieldError{Field: "display_currency", Message: "must be a 3-letter currency code"})
	}
	return errs
}

func (r checkoutRequest) toRequest(key string) checkout.Request {
	return checkout.Request{
		PackageID:       uuid.MustParse(r.PackageID),
		CouponCode:      r.CouponCode,
		Provider:        domain.PaymentProvider(r.Provider),
		IdempotencyKey:  key,
		DisplayCurrency: strings.ToUpper(r.DisplayCurrency),
		ReturnURL:       r.ReturnURL,
	}
}

type guestCheckoutRequest struct {
	checkoutRequest
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (r guestCheckoutRequest) Validate() []FieldError {
	errs := r.checkoutRequest.Validate()
	if strings.TrimSpace(r.Email) == "" {
		errs = append(errs, FieldError{Field: "email", Message: "required"})
	} else if !strings.Contains(r.Email, "@") {
		errs = append(errs, FieldError{Field: "email", Message: "must be an email address"})
	}
	return errs
}

func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, appErr := principalFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	creq := req.toRequest(r.Header.Get("Idempotency-Key"))
	creq.CustomerID = p.CustomerID
	h.run(w, r, creq)
}

func (h *CheckoutHandler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	var req guestCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	creq := req.toRequest(r.Header.Get("Idempotency-Key"))
	creq.Guest = &checkout.Guest{Email: req.Email, Name: req.Name}
	h.run(w, r, creq)
}

func (h *CheckoutHandler) run(w http.ResponseWriter, r *http.Request, req checkout.Request) {
	res, err := h.checkout.CreateCheckout(r.Context(), req)
	if err != nil {
		logging.FromContext(r.Context()).Warn("checkout failed", "error", err, "package_id", req.PackageID)
		respondCheckoutFailure(w, err)
		return
	}

	status := http.StatusCreated
	switch {
	case res.Replayed:
		status = http.StatusOK
	case res.Status == checkout.StatusPending:
		status = http.StatusAccepted
	}
	if res.OrderUUID != uuid.Nil {
		w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%s", res.OrderUUID))
	}
	RespondSuccess(w, status, res)
}

// respondCheckoutFailure keeps the checkout result shape on errors so
// clients read one body format for both outcomes.
func respondCheckoutFailure(w http.ResponseWriter, err error) {
	appErr, details := classify(err)
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    checkout.FailureResult(err),
		Error:   &APIError{Code: appErr.Code, Message: appErr.Message, Details: details},
	})
}

type validateCouponRequest struct {
	Code            string `json:"code"`
	PackageID       string `json:"package_id"`
	DisplayCurrency string `json:"display_currency"`
}

func (r validateCouponRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.Code) == "" {
		errs = append(errs, FieldError{Field: "code", Message: "required"})
	}
	if _, err := uuid.Parse(r.PackageID); err != nil {
		errs = append(errs, FieldError{Field: "package_id", Message: "must be a valid UUID"})
	}
	return errs
}

// ValidateCoupon prices a package with a coupon for the caller without
// reserving anything.
func (h *CheckoutHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	p, appErr := principalFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	preview, err := h.checkout.PreviewPrice(r.Context(), checkout.Request{
		CustomerID:      p.CustomerID,
		PackageID:       uuid.MustParse(req.PackageID),
		CouponCode:      req.Code,
		DisplayCurrency: strings.ToUpper(req.DisplayCurrency),
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, preview)
}
