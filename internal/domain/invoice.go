package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceType string

const (
	InvoiceTypePurchase  InvoiceType = "purchase"
	InvoiceTypeTopUp     InvoiceType = "top_up"
	InvoiceTypeStatement InvoiceType = "statement"
)

func (t InvoiceType) Prefix() (string, bool) {
	switch t {
	case InvoiceTypePurchase:
		return "INV", true
	case InvoiceTypeTopUp:
		return "TOP", true
	case InvoiceTypeStatement:
		return "STM", true
	default:
		return "", false
	}
}

type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

type Invoice struct {
	ID                   uuid.UUID
	InvoiceNumber        string
	Type                 InvoiceType
	CustomerID           uuid.UUID
	OrderID              *int64
	PaymentID            *uuid.UUID
	BalanceTransactionID *uuid.UUID
	Currency             string
	Subtotal             decimal.Decimal
	Discount             decimal.Decimal
	Total                decimal.Decimal
	LineItems            []LineItem
	IssuedAt             time.Time
}

func (i *Invoice) LineItemsJSON() (json.RawMessage, error) {
	if i.LineItems == nil {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(i.LineItems)
}
