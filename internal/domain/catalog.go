package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Country struct {
	ID      uuid.UUID
	Name    string
	ISOCode string
}

type Package struct {
	ID                uuid.UUID
	Name              string
	ProviderID        uuid.UUID
	CountryID         *uuid.UUID
	IsRegional        bool
	CoverageCountries []string
	RetailPrice       decimal.Decimal
	CostPrice         decimal.Decimal
	IsActive          bool
	Stock             *int
	CreatedAt         time.Time
}

// Available reports whether the package can be sold: active and either
// unlimited or with stock left.
func (p *Package) Available() bool {
	if !p.IsActive {
		return false
	}
	return p.Stock == nil || *p.Stock > 0
}
