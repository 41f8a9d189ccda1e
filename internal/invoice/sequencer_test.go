package invoice

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

type counterStore struct {
	last map[int]int
	err  error
}

func (c *counterStore) NextNumber(_ context.Context, _ *sql.Tx, year int) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.last == nil {
		c.last = map[int]int{}
	}
	c.last[year]++
	return c.last[year], nil
}

func TestSequencer_FormatsPerType(t *testing.T) {
	seq := NewSequencer(&counterStore{})
	ctx := context.Background()

	tests := []struct {
		typ  domain.InvoiceType
		want string
	}{
		{domain.InvoiceTypePurchase, "INV-2026-00001"},
		{domain.InvoiceTypeTopUp, "TOP-2026-00002"},
		{domain.InvoiceTypeStatement, "STM-2026-00003"},
	}
	for _, tt := range tests {
		got, err := seq.Next(ctx, nil, tt.typ, 2026)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	got, err := seq.Next(ctx, nil, domain.InvoiceTypePurchase, 2027)
	require.NoError(t, err)
	assert.Equal(t, "INV-2027-00001", got)
}

func TestSequencer_WrapsEveryFailure(t *testing.T) {
	seq := NewSequencer(&counterStore{err: errors.New("connection reset")})

	_, err := seq.Next(context.Background(), nil, domain.InvoiceTypePurchase, 2026)
	require.ErrorIs(t, err, domain.ErrSequenceGeneration)
	assert.Contains(t, err.Error(), "connection reset")

	_, err = NewSequencer(&counterStore{}).Next(context.Background(), nil, domain.InvoiceType("credit_note"), 2026)
	assert.ErrorIs(t, err, domain.ErrSequenceGeneration)
}

func TestFormat_PadsToFiveDigits(t *testing.T) {
	assert.Equal(t, "INV-2026-00042", Format("INV", 2026, 42))
	assert.Equal(t, "INV-2026-123456", Format("INV", 2026, 123456))
}

func TestTextRenderer_IsDeterministic(t *testing.T) {
	r := NewTextRenderer()
	vm := ViewModel{
		Seller:        "Commerce Ledger Ltd.",
		InvoiceNumber: "INV-2026-00007",
		Type:          "purchase",
		IssuedAt:      "2026-03-01",
		CustomerName:  "Acme",
		CustomerEmail: "ops@acme.test",
		Currency:      "EUR",
		Lines: []ViewLine{
			{Description: "Europe 10GB", Quantity: 1, UnitPrice: "50.00", Total: "50.00"},
			{Description: "Discount", Quantity: 1, UnitPrice: "-5.00", Total: "-5.00"},
		},
		Subtotal: "50.00",
		Discount: "5.00",
		Total:    "45.00",
	}

	first, err := r.Render(vm)
	require.NoError(t, err)
	second, err := r.Render(vm)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	out := string(first)
	assert.True(t, strings.HasPrefix(out, "Commerce Ledger Ltd.\nINVOICE INV-2026-00007"))
	assert.Contains(t, out, "Europe 10GB")
	assert.Contains(t, out, "45.00 EUR")
}
