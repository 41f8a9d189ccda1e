package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/commerce-ledger/internal/coupon"
	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/fx"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBalanceCheckoutSettlesInOneTransaction(t *testing.T) {
	h := newHarness(nil)

	res, err := h.svc.CreateCheckout(context.Background(), Request{
		CustomerID:     h.business,
		PackageID:      h.pkg,
		IdempotencyKey: "b2b-1",
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, res.Amount.Equal(dec("45.00")), "amount %s", res.Amount)
	assert.True(t, res.Discount.Equal(dec("5.00")), "discount %s", res.Discount)
	assert.Empty(t, res.RedirectURL)

	require.Len(t, h.ledger.ops, 2)
	assert.Equal(t, "reserve", h.ledger.ops[0].kind)
	assert.Equal(t, "deduct", h.ledger.ops[1].kind)
	assert.True(t, h.ledger.ops[1].fromReservation)
	assert.True(t, h.ledger.ops[1].amount.Equal(dec("45.00")))

	o := h.orders.get(res.OrderID)
	assert.Equal(t, domain.OrderStatusProcessing, o.Status)
	assert.Equal(t, domain.OrderPaymentPaid, o.PaymentStatus)
	assert.True(t, o.Subtotal.Equal(dec("50.00")))

	p := h.payments.forOrder(res.OrderID)
	assert.Equal(t, domain.ProviderBalance, p.Provider)
	assert.Equal(t, domain.PaymentStatusSucceeded, p.Status)
	require.NotNil(t, p.GatewayID)

	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusProcessing}, h.lifecycle.transitions)
	assert.Equal(t, []int64{res.OrderID}, h.lifecycle.kicked)
}

func TestBalanceCheckoutInsufficientBalance(t *testing.T) {
	h := newHarness(nil)
	h.ledger.reserveErr = fmt.Errorf("Reserve: %w", domain.ErrInsufficientBalance)

	_, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.business, PackageID: h.pkg})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	failure := FailureResult(err)
	assert.False(t, failure.Success)
	assert.Equal(t, StatusFailed, failure.Status)
	assert.Equal(t, "insufficient_balance", failure.Error.Code)
	assert.Empty(t, h.lifecycle.kicked)
}

func TestGatewayCheckoutRedirects(t *testing.T) {
	h := newHarness(nil)

	res, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg})
	require.NoError(t, err)

	assert.Equal(t, StatusRedirect, res.Status)
	assert.Equal(t, "https://pay.example/cs_1", res.RedirectURL)
	assert.True(t, res.Amount.Equal(dec("50.00")))

	o := h.orders.get(res.OrderID)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, o.Status)
	assert.Equal(t, domain.OrderPaymentUnpaid, o.PaymentStatus)

	p := h.payments.forOrder(res.OrderID)
	require.NotNil(t, p.GatewayID)
	assert.Equal(t, "cs_1", *p.GatewayID)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
	assert.Empty(t, h.ledger.ops)
	assert.Empty(t, h.lifecycle.kicked)
}

func TestGatewayTransientFailureLeavesOrderAwaitingPayment(t *testing.T) {
	h := newHarness(nil)
	h.card.checkout = func(int) (*gateway.Session, error) {
		return nil, &domain.GatewayError{Op: "CreateCheckout", Transient: true, StatusCode: 503, Err: errors.New("unavailable")}
	}

	res, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, 3, h.card.calls)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, h.orders.get(res.OrderID).Status)
	assert.Empty(t, h.lifecycle.failed)
}

func TestGatewayPermanentFailureFailsOrder(t *testing.T) {
	h := newHarness(nil)
	h.card.checkout = func(int) (*gateway.Session, error) {
		return nil, &domain.GatewayError{Op: "CreateCheckout", StatusCode: 422, Err: errors.New("card declined")}
	}

	_, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg})
	require.ErrorIs(t, err, domain.ErrGateway)
	assert.Equal(t, "payment_declined", FailureResult(err).Error.Code)

	assert.Equal(t, 1, h.card.calls)
	require.Len(t, h.lifecycle.failed, 1)
	for id := range h.lifecycle.failed {
		assert.Equal(t, domain.OrderStatusFailed, h.orders.get(id).Status)
	}
}

func TestCheckoutReplaysSameIdempotencyKey(t *testing.T) {
	h := newHarness(nil)
	req := Request{CustomerID: h.business, PackageID: h.pkg, IdempotencyKey: "same-key"}

	first, err := h.svc.CreateCheckout(context.Background(), req)
	require.NoError(t, err)
	second, err := h.svc.CreateCheckout(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, 1, h.orders.count())
	assert.Len(t, h.ledger.ops, 2)
}

func TestCheckoutRejectsReusedKeyForDifferentPurchase(t *testing.T) {
	h := newHarness(nil)
	other := uuid.New()
	h.packages.byID[other] = domain.Package{ID: other, Name: "France 5GB", RetailPrice: dec("20.00"), IsActive: true}

	_, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.business, PackageID: h.pkg, IdempotencyKey: "k"})
	require.NoError(t, err)

	_, err = h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.business, PackageID: other, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, domain.ErrDuplicateCheckout)
	assert.Equal(t, 1, h.orders.count())
}

func TestGuestCheckoutReusesCustomerByEmail(t *testing.T) {
	h := newHarness(nil)

	first, err := h.svc.CreateCheckout(context.Background(), Request{
		Guest:     &Guest{Email: "  New@Example.test ", Name: "New Buyer"},
		PackageID: h.pkg,
	})
	require.NoError(t, err)
	second, err := h.svc.CreateCheckout(context.Background(), Request{
		Guest:     &Guest{Email: "new@example.test"},
		PackageID: h.pkg,
	})
	require.NoError(t, err)

	assert.Equal(t, first.CustomerID, second.CustomerID)
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Len(t, h.users.byEmail, 1)
	assert.Equal(t, StatusRedirect, first.Status)

	c, err := h.customers.GetByID(context.Background(), first.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, domain.CustomerTypeB2C, c.Type)
	assert.Equal(t, "new@example.test", c.Email)
}

func TestGuestCheckoutRequiresEmail(t *testing.T) {
	h := newHarness(nil)

	_, err := h.svc.CreateCheckout(context.Background(), Request{Guest: &Guest{Email: "nope"}, PackageID: h.pkg})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, h.orders.count())
}

func TestCheckoutAppliesCouponAfterCustomerDiscount(t *testing.T) {
	h := newHarness(nil)
	h.coupons.app = &coupon.Application{Coupon: &domain.Coupon{
		ID: uuid.New(), Code: "SPRING", Type: domain.CouponTypeFixed, Value: dec("5.00"), IsActive: true,
	}}

	res, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.business, PackageID: h.pkg, CouponCode: "spring"})
	require.NoError(t, err)

	assert.True(t, res.Amount.Equal(dec("40.00")), "amount %s", res.Amount)
	assert.True(t, res.Discount.Equal(dec("10.00")), "discount %s", res.Discount)
	assert.Equal(t, []int64{res.OrderID}, h.coupons.usages)

	o := h.orders.get(res.OrderID)
	require.NotNil(t, o.CouponID)
	assert.Equal(t, h.coupons.app.Coupon.ID, *o.CouponID)
}

func TestCheckoutRejectedCouponHasNoSideEffects(t *testing.T) {
	h := newHarness(nil)
	h.coupons.err = fmt.Errorf("Validate: %w", domain.NewCouponError("OLD", domain.CouponReasonExpired))

	_, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.business, PackageID: h.pkg, CouponCode: "old"})
	require.ErrorIs(t, err, domain.ErrCouponInvalid)

	f := FailureResult(err).Error
	assert.Equal(t, "coupon_invalid", f.Code)
	assert.Equal(t, "expired", f.Reason)
	assert.Equal(t, 0, h.orders.count())
	assert.Empty(t, h.ledger.ops)
}

func TestCheckoutUnavailablePackage(t *testing.T) {
	h := newHarness(nil)
	pkg := h.packages.byID[h.pkg]
	zero := 0
	pkg.Stock = &zero
	h.packages.byID[h.pkg] = pkg

	_, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.business, PackageID: h.pkg})
	assert.ErrorIs(t, err, domain.ErrPackageUnavailable)
	assert.Equal(t, 0, h.orders.count())

	_, err = h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.business, PackageID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrPackageUnavailable)
}

func TestCheckoutStockTakenOnlyForLimitedPackages(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	_, err := h.svc.CreateCheckout(ctx, Request{CustomerID: h.business, PackageID: h.pkg, IdempotencyKey: "unlimited"})
	require.NoError(t, err)
	assert.Equal(t, 0, h.packages.taken)

	pkg := h.packages.byID[h.pkg]
	two := 2
	pkg.Stock = &two
	h.packages.byID[h.pkg] = pkg

	_, err = h.svc.CreateCheckout(ctx, Request{CustomerID: h.business, PackageID: h.pkg, IdempotencyKey: "limited"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.packages.taken)
	assert.Equal(t, 1, *h.packages.byID[h.pkg].Stock)
}

func TestCheckoutUnknownCustomer(t *testing.T) {
	h := newHarness(nil)

	_, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: uuid.New(), PackageID: h.pkg})
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestFreeOrderSettlesWithoutLedgerMovement(t *testing.T) {
	h := newHarness(nil)
	h.coupons.app = &coupon.Application{Coupon: &domain.Coupon{
		ID: uuid.New(), Code: "FREE", Type: domain.CouponTypePercentage, Value: dec("100"), IsActive: true,
	}}

	res, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg, CouponCode: "free"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, res.Amount.IsZero())
	assert.Empty(t, h.ledger.ops)
	assert.Equal(t, 0, h.card.calls)
	assert.Equal(t, domain.ProviderBalance, h.payments.forOrder(res.OrderID).Provider)
}

func TestCheckoutDisplayConversion(t *testing.T) {
	rates := fx.NewRateService("EUR", fx.DefaultRates, slog.Default())
	require.NoError(t, rates.Refresh(context.Background()))
	h := newHarness(rates)

	res, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg, DisplayCurrency: "USD"})
	require.NoError(t, err)

	require.NotNil(t, res.DisplayAmount)
	assert.True(t, res.DisplayAmount.Equal(dec("54.35")), "display %s", res.DisplayAmount)
	assert.Equal(t, "USD", res.DisplayCurrency)
	assert.Equal(t, "EUR", res.Currency)

	_, err = h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg, DisplayCurrency: "XXX"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProviderFor(t *testing.T) {
	b2b := &domain.Customer{Type: domain.CustomerTypeB2B}
	b2c := &domain.Customer{Type: domain.CustomerTypeB2C}

	tests := []struct {
		name      string
		customer  *domain.Customer
		requested domain.PaymentProvider
		want      domain.PaymentProvider
		wantErr   error
	}{
		{name: "b2b default", customer: b2b, want: domain.ProviderBalance},
		{name: "b2c default", customer: b2c, want: domain.ProviderCard},
		{name: "b2c bank", customer: b2c, requested: domain.ProviderBankTransfer, want: domain.ProviderBankTransfer},
		{name: "b2c balance", customer: b2c, requested: domain.ProviderBalance, wantErr: domain.ErrValidation},
		{name: "b2b card", customer: b2b, requested: domain.ProviderCard, wantErr: domain.ErrValidation},
		{name: "unknown", customer: b2c, requested: "crypto", wantErr: domain.ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := providerFor(tt.customer, tt.requested)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCustomerPrice(t *testing.T) {
	assert.True(t, CustomerPrice(dec("50.00"), decimal.Zero).Equal(dec("50.00")))
	assert.True(t, CustomerPrice(dec("50.00"), dec("10")).Equal(dec("45.00")))
	assert.True(t, CustomerPrice(dec("19.99"), dec("12.5")).Equal(dec("17.49")))
	assert.True(t, CustomerPrice(dec("10.00"), dec("100")).IsZero())
}

func TestFailureResultCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("x: %w", domain.ErrPackageUnavailable), "package_unavailable"},
		{fmt.Errorf("x: %w", domain.ErrDuplicateCheckout), "duplicate_checkout"},
		{fmt.Errorf("x: %w", domain.ErrConcurrencyConflict), "concurrency_conflict"},
		{fmt.Errorf("x: %w", domain.ErrCustomerNotFound), "customer_not_found"},
		{fmt.Errorf("x: %w", domain.ErrValidation), "validation_error"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, FailureResult(tt.err).Error.Code, tt.err.Error())
	}
}

func TestReconcileConfirmsPaidOrder(t *testing.T) {
	h := newHarness(nil)
	h.card.validate = func(p *domain.Payment) (*gateway.Validation, error) {
		return &gateway.Validation{Success: true, Status: domain.PaymentStatusSucceeded, TransactionID: "tx_9", Amount: p.Amount}, nil
	}

	res, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg})
	require.NoError(t, err)

	o, err := h.svc.Reconcile(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, o.Status)
	assert.Equal(t, []int64{res.OrderID}, h.lifecycle.confirmed)
	assert.Equal(t, []int64{res.OrderID}, h.lifecycle.kicked)

	// A second reconcile sees a processing order and does nothing.
	_, err = h.svc.Reconcile(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Len(t, h.lifecycle.confirmed, 1)
}

func TestReconcileFailsDeclinedPayment(t *testing.T) {
	h := newHarness(nil)
	h.card.validate = func(*domain.Payment) (*gateway.Validation, error) {
		return &gateway.Validation{Status: domain.PaymentStatusFailed}, nil
	}

	res, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg})
	require.NoError(t, err)

	o, err := h.svc.Reconcile(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, o.Status)
	assert.Contains(t, h.lifecycle.failed[res.OrderID], "failed")
}

func TestReconcileOpensMissingSession(t *testing.T) {
	h := newHarness(nil)
	down := true
	h.card.checkout = func(int) (*gateway.Session, error) {
		if down {
			return nil, &domain.GatewayError{Op: "CreateCheckout", Transient: true, Err: errors.New("timeout")}
		}
		return redirectSession(0)
	}

	res, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg})
	require.NoError(t, err)
	require.Equal(t, StatusPending, res.Status)
	assert.Nil(t, h.payments.forOrder(res.OrderID).GatewayID)

	down = false
	o, err := h.svc.Reconcile(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, o.Status)

	p := h.payments.forOrder(res.OrderID)
	require.NotNil(t, p.GatewayID)
	assert.Equal(t, "https://pay.example/cs_1", *p.CheckoutURL)
}

func TestSweepReconcilesStaleOrders(t *testing.T) {
	h := newHarness(nil)
	validated := 0
	h.card.validate = func(*domain.Payment) (*gateway.Validation, error) {
		validated++
		return &gateway.Validation{Status: domain.PaymentStatusPending}, nil
	}

	_, err := h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.consumer, PackageID: h.pkg})
	require.NoError(t, err)
	_, err = h.svc.CreateCheckout(context.Background(), Request{CustomerID: h.business, PackageID: h.pkg})
	require.NoError(t, err)

	h.svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	n, err := h.svc.Sweep(context.Background(), 10*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, validated)
}
