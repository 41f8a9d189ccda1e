package checkout

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

// Preview is the price a customer would pay right now. Building one has no
// side effects.
type Preview struct {
	PackageID       string                 `json:"package_id"`
	Provider        domain.PaymentProvider `json:"provider"`
	Subtotal        decimal.Decimal        `json:"subtotal"`
	CustomerPrice   decimal.Decimal        `json:"customer_price"`
	CouponCode      string                 `json:"coupon_code,omitempty"`
	CouponDiscount  decimal.Decimal        `json:"coupon_discount"`
	Discount        decimal.Decimal        `json:"discount"`
	Amount          decimal.Decimal        `json:"amount"`
	Currency        string                 `json:"currency"`
	DisplayAmount   *decimal.Decimal       `json:"display_amount,omitempty"`
	DisplayCurrency string                 `json:"display_currency,omitempty"`
}

// PreviewPrice runs the pricing pipeline of CreateCheckout for a signed-in
// customer and reports the result. Coupon rejections come back as errors
// matching domain.ErrCouponInvalid.
func (s *Service) PreviewPrice(ctx context.Context, req Request) (*Preview, error) {
	ctx, span := tracer.Start(ctx, "checkout.PreviewPrice")
	defer span.End()

	req.Guest = nil
	customer, err := s.resolveCustomer(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("PreviewPrice: %w", err)
	}
	q, err := s.price(ctx, req, customer)
	if err != nil {
		return nil, fmt.Errorf("PreviewPrice: %w", err)
	}

	p := &Preview{
		PackageID:     q.pkg.ID.String(),
		Provider:      q.provider,
		Subtotal:      q.subtotal,
		CustomerPrice: CustomerPrice(q.pkg.RetailPrice, customer.DiscountPercent),
		Discount:      q.discount,
		Amount:        q.amount,
		Currency:      s.cfg.Currency,
	}
	if q.coupon != nil {
		p.CouponCode = q.coupon.Coupon.Code
		p.CouponDiscount = q.coupon.Discount
	}
	if q.display != nil {
		amt := q.display.Amount
		p.DisplayAmount = &amt
		p.DisplayCurrency = q.display.Currency
	}
	return p, nil
}
