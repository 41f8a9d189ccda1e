package invoice

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

type sequenceStore interface {
	NextNumber(ctx context.Context, tx *sql.Tx, year int) (int, error)
}

// Sequencer hands out gapless per-year invoice numbers. The counter row is
// incremented in the caller's transaction, so a rolled back invoice also rolls
// back its number and concurrent issuers queue on the row lock.
type Sequencer struct {
	store sequenceStore
}

func NewSequencer(store sequenceStore) *Sequencer {
	return &Sequencer{store: store}
}

func (s *Sequencer) Next(ctx context.Context, tx *sql.Tx, typ domain.InvoiceType, year int) (string, error) {
	prefix, ok := typ.Prefix()
	if !ok {
		return "", fmt.Errorf("Next: %w: unknown invoice type %q", domain.ErrSequenceGeneration, typ)
	}
	if year < 2000 || year > 9999 {
		return "", fmt.Errorf("Next: %w: year %d out of range", domain.ErrSequenceGeneration, year)
	}

	n, err := s.store.NextNumber(ctx, tx, year)
	if err != nil {
		return "", fmt.Errorf("Next: %w: %w", domain.ErrSequenceGeneration, err)
	}
	return Format(prefix, year, n), nil
}

func Format(prefix string, year, n int) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, n)
}
