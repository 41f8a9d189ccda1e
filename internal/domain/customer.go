package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusClosed    UserStatus = "closed"
)

type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Status       UserStatus
	CreatedAt    time.Time
}

// CustomerType is the customer segment. It selects the settlement path at
// checkout: b2b settles against the prepaid balance, b2c through a gateway.
type CustomerType string

const (
	CustomerTypeB2B CustomerType = "b2b"
	CustomerTypeB2C CustomerType = "b2c"
)

func (t CustomerType) IsValid() bool {
	return t == CustomerTypeB2B || t == CustomerTypeB2C
}

type Customer struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Type            CustomerType
	Name            string
	Email           string
	DiscountPercent decimal.Decimal
	CreatedAt       time.Time
}

func (c *Customer) BalanceSettled() bool {
	return c.Type == CustomerTypeB2B
}
