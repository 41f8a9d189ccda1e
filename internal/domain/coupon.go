package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFixed      CouponType = "fixed"
)

func (t CouponType) IsValid() bool {
	return t == CouponTypePercentage || t == CouponTypeFixed
}

// Coupon targeting lists are allow-lists: an empty list allows everything.
// ExcludedPackageIDs is a deny-list and wins over PackageIDs.
type Coupon struct {
	ID                 uuid.UUID
	Code               string
	Type               CouponType
	Value              decimal.Decimal
	MinOrderAmount     decimal.Decimal
	CustomerTypes      []CustomerType
	CountryIDs         []uuid.UUID
	ProviderIDs        []uuid.UUID
	PackageIDs         []uuid.UUID
	ExcludedPackageIDs []uuid.UUID
	FirstTimeOnly      bool
	UsageLimit         *int
	PerCustomerLimit   *int
	UsageCount         int
	ValidFrom          *time.Time
	ValidUntil         *time.Time
	IsActive           bool
	CreatedAt          time.Time
}

func (c *Coupon) LimitReached() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

type CouponUsage struct {
	ID             uuid.UUID
	CouponID       uuid.UUID
	CustomerID     uuid.UUID
	OrderID        int64
	DiscountAmount decimal.Decimal
	CreatedAt      time.Time
}

// NormalizeCouponCode uppercases the code and strips all whitespace.
func NormalizeCouponCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}
