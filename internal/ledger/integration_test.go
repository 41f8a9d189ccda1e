package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/ledger"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
	"github.com/josh-kwaku/commerce-ledger/internal/testutil"
)

func setup(t *testing.T) (*sql.DB, *repository.DB, *ledger.Ledger) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	txdb := testutil.NewDB(db)
	return db, txdb, ledger.New(repository.NewBalanceRepository(db), txdb, nil, nil)
}

func TestIntegration_ReserveAndDeduct(t *testing.T) {
	db, txdb, l := setup(t)
	ctx := context.Background()
	c := testutil.SeedCustomer(t, db, "acme@example.com", domain.CustomerTypeB2B)
	testutil.SeedBalance(t, db, c.ID, "100.00", "0.00")

	err := txdb.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := l.Reserve(ctx, tx, c.ID, testutil.Dec("30.00"), ledger.Ref{}); err != nil {
			return err
		}
		_, err := l.Deduct(ctx, tx, c.ID, testutil.Dec("30.00"), true, ledger.Ref{})
		return err
	})
	require.NoError(t, err)

	balance, reserved := testutil.GetBalance(t, db, c.ID)
	assert.Equal(t, "70.00", balance.StringFixed(2))
	assert.Equal(t, "0.00", reserved.StringFixed(2))
	assert.Equal(t, 2, testutil.CountRows(t, db, "balance_transactions", "customer_id = $1", c.ID))
}

func TestIntegration_FailedStepRollsBackWholeTransaction(t *testing.T) {
	db, txdb, l := setup(t)
	ctx := context.Background()
	c := testutil.SeedCustomer(t, db, "rollback@example.com", domain.CustomerTypeB2B)
	testutil.SeedBalance(t, db, c.ID, "50.00", "0.00")

	err := txdb.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := l.Reserve(ctx, tx, c.ID, testutil.Dec("20.00"), ledger.Ref{}); err != nil {
			return err
		}
		_, err := l.Deduct(ctx, tx, c.ID, testutil.Dec("40.00"), true, ledger.Ref{})
		return err
	})
	require.ErrorIs(t, err, domain.ErrReservationMissing)

	balance, reserved := testutil.GetBalance(t, db, c.ID)
	assert.Equal(t, "50.00", balance.StringFixed(2))
	assert.Equal(t, "0.00", reserved.StringFixed(2))
	assert.Zero(t, testutil.CountRows(t, db, "balance_transactions", "customer_id = $1", c.ID))
}

func TestIntegration_ConcurrentDeductionsNeverOverdraw(t *testing.T) {
	db, _, l := setup(t)
	ctx := context.Background()
	c := testutil.SeedCustomer(t, db, "race@example.com", domain.CustomerTypeB2B)
	testutil.SeedBalance(t, db, c.ID, "100.00", "0.00")

	txdb := repository.NewDB(db, repository.TxOptions{MaxRetries: 10})
	const workers = 15
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := txdb.WithTx(ctx, func(tx *sql.Tx) error {
				_, err := l.Deduct(ctx, tx, c.ID, testutil.Dec("10.00"), false, ledger.Ref{})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 5, insufficient)

	balance, _ := testutil.GetBalance(t, db, c.ID)
	assert.True(t, balance.IsZero())

	var mismatched int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM balance_transactions
		WHERE customer_id = $1 AND balance_after <> balance_before - amount`, c.ID,
	).Scan(&mismatched)
	require.NoError(t, err)
	assert.Zero(t, mismatched)
}

func TestIntegration_TopUpCreatesAccount(t *testing.T) {
	db, _, l := setup(t)
	ctx := context.Background()
	c := testutil.SeedCustomer(t, db, "new@example.com", domain.CustomerTypeB2B)

	txn, _, err := l.TopUp(ctx, c.ID, testutil.Dec("12.34"), "first top-up")
	require.NoError(t, err)
	assert.True(t, txn.BalanceBefore.IsZero())

	acct, err := l.Account(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.34", acct.Balance.StringFixed(2))
}
