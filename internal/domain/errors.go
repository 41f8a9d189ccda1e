package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrValidation              = errors.New("validation failed")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrReservationMissing      = errors.New("reserved amount smaller than deduction")
	ErrCouponInvalid           = errors.New("coupon invalid")
	ErrGateway                 = errors.New("gateway error")
	ErrConcurrencyConflict     = errors.New("concurrency conflict")
	ErrSequenceGeneration      = errors.New("invoice sequence generation failed")
	ErrPackageUnavailable      = errors.New("package unavailable")
	ErrCustomerNotFound        = errors.New("customer not found")
	ErrIllegalTransition       = errors.New("illegal order status transition")
	ErrOrderNotRetryable       = errors.New("order cannot be retried")
	ErrAttemptInFlight         = errors.New("fulfillment attempt already in flight")
	ErrDuplicateCheckout       = errors.New("idempotency key already used for a different checkout")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrUnknownProvider         = errors.New("unknown payment provider")
	ErrPaymentTerminal         = errors.New("payment already in terminal state")
	ErrRefundExceedsPayment    = errors.New("refund exceeds refundable amount")
)

type CouponReason string

const (
	CouponReasonNotFound      CouponReason = "not_found"
	CouponReasonExpired       CouponReason = "expired"
	CouponReasonUpcoming      CouponReason = "upcoming"
	CouponReasonLimitReached  CouponReason = "limit_reached"
	CouponReasonCustomerLimit CouponReason = "customer_limit"
	CouponReasonBelowMinimum  CouponReason = "below_minimum"
	CouponReasonCustomerType  CouponReason = "customer_type"
	CouponReasonCountry       CouponReason = "country"
	CouponReasonProvider      CouponReason = "provider"
	CouponReasonPackage       CouponReason = "package"
	CouponReasonExcluded      CouponReason = "excluded"
	CouponReasonFirstOrder    CouponReason = "first_order_only"
)

// CouponError carries the reason a coupon was rejected. It matches
// ErrCouponInvalid under errors.Is.
type CouponError struct {
	Code   string
	Reason CouponReason
}

func NewCouponError(code string, reason CouponReason) *CouponError {
	return &CouponError{Code: code, Reason: reason}
}

func (e *CouponError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("coupon invalid: %s", e.Reason)
	}
	return fmt.Sprintf("coupon %s invalid: %s", e.Code, e.Reason)
}

func (e *CouponError) Is(target error) bool { return target == ErrCouponInvalid }

// GatewayError wraps a failure talking to an upstream payment gateway or
// provisioning provider. Transient errors are safe to retry.
type GatewayError struct {
	Op         string
	Transient  bool
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s gateway error (status %d): %v", e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s gateway error: %v", e.Op, kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

func IsTransient(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Transient
}

func CouponReasonOf(err error) (CouponReason, bool) {
	var ce *CouponError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}
