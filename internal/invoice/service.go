// Package invoice numbers, persists and renders invoices.
package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/metrics"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

type invoiceStore interface {
	Create(ctx context.Context, tx *sql.Tx, inv *domain.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	GetPurchaseForOrder(ctx context.Context, q repository.Querier, orderID int64) (*domain.Invoice, error)
}

type packageLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Package, error)
}

type customerLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
}

type Service struct {
	seq       *Sequencer
	invoices  invoiceStore
	packages  packageLookup
	customers customerLookup
	renderer  Renderer
	seller    string
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(seq *Sequencer, invoices invoiceStore, packages packageLookup, customers customerLookup, renderer Renderer, seller string, m *metrics.Metrics) *Service {
	return &Service{
		seq:       seq,
		invoices:  invoices,
		packages:  packages,
		customers: customers,
		renderer:  renderer,
		seller:    seller,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IssueForOrder creates the order's purchase invoice in tx. An order that
// already has one gets it back without consuming a number.
func (s *Service) IssueForOrder(ctx context.Context, tx *sql.Tx, order *domain.Order, payment *domain.Payment) (*domain.Invoice, error) {
	existing, err := s.invoices.GetPurchaseForOrder(ctx, tx, order.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("IssueForOrder: %w", err)
	}

	description := "Connectivity package"
	if pkg, err := s.packages.GetByID(ctx, order.PackageID); err == nil {
		description = pkg.Name
	}

	inv := &domain.Invoice{
		ID:         uuid.New(),
		Type:       domain.InvoiceTypePurchase,
		CustomerID: order.CustomerID,
		OrderID:    &order.ID,
		Currency:   order.Currency,
		Subtotal:   order.Subtotal,
		Discount:   order.DiscountAmount,
		Total:      order.Amount,
		LineItems: []domain.LineItem{{
			Description: description,
			Quantity:    1,
			UnitPrice:   order.Subtotal,
			Total:       order.Subtotal,
		}},
	}
	if payment != nil {
		inv.PaymentID = &payment.ID
	}
	if order.DiscountAmount.IsPositive() {
		inv.LineItems = append(inv.LineItems, domain.LineItem{
			Description: "Discount",
			Quantity:    1,
			UnitPrice:   order.DiscountAmount.Neg(),
			Total:       order.DiscountAmount.Neg(),
		})
	}

	if err := s.issue(ctx, tx, inv); err != nil {
		return nil, fmt.Errorf("IssueForOrder: %w", err)
	}
	return inv, nil
}

func (s *Service) IssueForTopUp(ctx context.Context, tx *sql.Tx, txn *domain.BalanceTransaction) (*domain.Invoice, error) {
	if txn.Type != domain.BalanceTxTopUp {
		return nil, fmt.Errorf("IssueForTopUp: %w: transaction type %s", domain.ErrValidation, txn.Type)
	}
	inv := &domain.Invoice{
		ID:                   uuid.New(),
		Type:                 domain.InvoiceTypeTopUp,
		CustomerID:           txn.CustomerID,
		BalanceTransactionID: &txn.ID,
		Currency:             domain.SettlementCurrency,
		Subtotal:             txn.Amount,
		Discount:             decimal.Zero,
		Total:                txn.Amount,
		LineItems: []domain.LineItem{{
			Description: "Balance top-up",
			Quantity:    1,
			UnitPrice:   txn.Amount,
			Total:       txn.Amount,
		}},
	}
	if err := s.issue(ctx, tx, inv); err != nil {
		return nil, fmt.Errorf("IssueForTopUp: %w", err)
	}
	return inv, nil
}

// IssueStatement issues a statement invoice summarising the given ledger rows.
func (s *Service) IssueStatement(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, txns []domain.BalanceTransaction) (*domain.Invoice, error) {
	inv := &domain.Invoice{
		ID:         uuid.New(),
		Type:       domain.InvoiceTypeStatement,
		CustomerID: customerID,
		Currency:   domain.SettlementCurrency,
		Discount:   decimal.Zero,
	}
	total := decimal.Zero
	for _, t := range txns {
		signed := t.Amount.Mul(decimal.NewFromInt(int64(t.Type.BalanceSign(t.Direction))))
		if signed.IsZero() {
			continue
		}
		inv.LineItems = append(inv.LineItems, domain.LineItem{
			Description: fmt.Sprintf("%s %s", t.CreatedAt.Format("2006-01-02"), t.Type),
			Quantity:    1,
			UnitPrice:   signed,
			Total:       signed,
		})
		total = total.Add(signed)
	}
	inv.Subtotal, inv.Total = total, total

	if err := s.issue(ctx, tx, inv); err != nil {
		return nil, fmt.Errorf("IssueStatement: %w", err)
	}
	return inv, nil
}

func (s *Service) issue(ctx context.Context, tx *sql.Tx, inv *domain.Invoice) error {
	inv.IssuedAt = s.now()
	number, err := s.seq.Next(ctx, tx, inv.Type, inv.IssuedAt.Year())
	if err != nil {
		logging.FromContext(ctx).Error("invoice number allocation failed",
			"customer_id", inv.CustomerID,
			"invoice_type", inv.Type,
			"error", err,
		)
		return err
	}
	inv.InvoiceNumber = number

	if err := s.invoices.Create(ctx, tx, inv); err != nil {
		return err
	}

	s.metrics.InvoiceIssued(string(inv.Type))
	logging.FromContext(ctx).Info("invoice issued",
		"invoice_number", inv.InvoiceNumber,
		"customer_id", inv.CustomerID,
		"total", inv.Total.StringFixed(2),
	)
	return nil
}

// Render produces the document for a stored invoice.
func (s *Service) Render(ctx context.Context, invoiceID uuid.UUID) ([]byte, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("Render: %w", err)
	}
	return s.render(ctx, inv)
}

func (s *Service) RenderForOrder(ctx context.Context, q repository.Querier, orderID int64) ([]byte, error) {
	inv, err := s.invoices.GetPurchaseForOrder(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("RenderForOrder: %w", err)
	}
	return s.render(ctx, inv)
}

func (s *Service) render(ctx context.Context, inv *domain.Invoice) ([]byte, error) {
	vm := ViewModel{
		Seller:        s.seller,
		InvoiceNumber: inv.InvoiceNumber,
		Type:          string(inv.Type),
		IssuedAt:      inv.IssuedAt.Format("2006-01-02"),
		Currency:      inv.Currency,
		Subtotal:      inv.Subtotal.StringFixed(2),
		Discount:      inv.Discount.StringFixed(2),
		Total:         inv.Total.StringFixed(2),
	}
	if c, err := s.customers.GetByID(ctx, inv.CustomerID); err == nil {
		vm.CustomerName, vm.CustomerEmail = c.Name, c.Email
	}
	for _, li := range inv.LineItems {
		vm.Lines = append(vm.Lines, ViewLine{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice.StringFixed(2),
			Total:       li.Total.StringFixed(2),
		})
	}

	out, err := s.renderer.Render(vm)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return out, nil
}
