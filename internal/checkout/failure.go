package checkout

import (
	"errors"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

// Failure is the client-facing reason a checkout did not go through.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// FailureResult maps a CreateCheckout error to a structured failed result.
func FailureResult(err error) *Result {
	return &Result{
		Success: false,
		Status:  StatusFailed,
		Error:   failureFor(err),
	}
}

func failureFor(err error) *Failure {
	if reason, ok := domain.CouponReasonOf(err); ok {
		return &Failure{Code: "coupon_invalid", Message: "coupon cannot be applied", Reason: string(reason)}
	}

	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return &Failure{Code: "insufficient_balance", Message: "available balance does not cover the order"}
	case errors.Is(err, domain.ErrPackageUnavailable):
		return &Failure{Code: "package_unavailable", Message: "package is not available"}
	case errors.Is(err, domain.ErrCustomerNotFound):
		return &Failure{Code: "customer_not_found", Message: "customer not found"}
	case errors.Is(err, domain.ErrDuplicateCheckout):
		return &Failure{Code: "duplicate_checkout", Message: "idempotency key was used for a different checkout"}
	case errors.Is(err, domain.ErrUnknownProvider):
		return &Failure{Code: "unknown_provider", Message: "payment provider not supported"}
	case errors.Is(err, domain.ErrValidation):
		return &Failure{Code: "validation_error", Message: err.Error()}
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return &Failure{Code: "concurrency_conflict", Message: "checkout conflicted with another operation, retry"}
	case errors.Is(err, domain.ErrGateway):
		return &Failure{Code: "payment_declined", Message: "payment gateway rejected the checkout"}
	default:
		return &Failure{Code: "internal_error", Message: "checkout failed"}
	}
}
