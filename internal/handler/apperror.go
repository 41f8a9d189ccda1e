package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken       = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken       = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidCredentials = &AppError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"}
	ErrInvalidSignature   = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature is invalid"}
	ErrInvalidRequest     = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed   = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound   = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError      = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInsufficientBalance = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", "Insufficient balance"}
	ErrCouponInvalid       = &AppError{http.StatusUnprocessableEntity, "COUPON_INVALID", "Coupon cannot be applied"}
	ErrPackageUnavailable  = &AppError{http.StatusUnprocessableEntity, "PACKAGE_UNAVAILABLE", "Package is not available"}
	ErrCustomerNotFound    = &AppError{http.StatusNotFound, "CUSTOMER_NOT_FOUND", "Customer not found"}
	ErrUnknownProvider     = &AppError{http.StatusBadRequest, "UNKNOWN_PROVIDER", "Unknown payment provider"}
	ErrPaymentDeclined     = &AppError{http.StatusPaymentRequired, "PAYMENT_DECLINED", "Payment gateway declined the request"}
	ErrIllegalTransition   = &AppError{http.StatusConflict, "ILLEGAL_TRANSITION", "Order cannot move to the requested status"}
	ErrDuplicateCheckout   = &AppError{http.StatusConflict, "DUPLICATE_CHECKOUT", "Idempotency key already used for a different checkout"}
	ErrConcurrencyConflict = &AppError{http.StatusConflict, "CONCURRENCY_CONFLICT", "Resource was modified concurrently, please retry"}

	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
)
