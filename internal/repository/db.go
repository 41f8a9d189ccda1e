package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

type scanner interface {
	Scan(dest ...any) error
}

// Querier is satisfied by both *sql.DB and *sql.Tx so reads can run inside or
// outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type TxOptions struct {
	LockTimeout time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	// OnConflict is called before each rerun of a conflicted transaction.
	OnConflict func()
}

type DB struct {
	pool *sql.DB
	opts TxOptions
}

func NewDB(pool *sql.DB, opts TxOptions) *DB {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 20 * time.Millisecond
	}
	return &DB{pool: pool, opts: opts}
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := d.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	return tx, nil
}

// WithTx runs fn in a transaction and commits it. Lock conflicts (serialization
// failure, deadlock, lock timeout) roll back and rerun fn up to MaxRetries
// more times; every other error is returned immediately.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := d.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			logging.FromContext(ctx).Warn("transaction conflict, retrying",
				"attempt", attempt,
				"error", err,
			)
			if d.opts.OnConflict != nil {
				d.opts.OnConflict()
			}
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.BaseDelay
	b.MaxInterval = 50 * d.opts.BaseDelay
	b.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(d.opts.MaxRetries, 0))), ctx))
	if err != nil {
		return fmt.Errorf("WithTx: %w", err)
	}
	return nil
}

func (d *DB) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.pool.BeginTx(ctx, nil)
	if err != nil {
		return mapConflict(err)
	}
	defer tx.Rollback()

	if d.opts.LockTimeout > 0 {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.opts.LockTimeout.Milliseconds()),
		); err != nil {
			return mapConflict(err)
		}
	}

	if err := fn(tx); err != nil {
		return mapConflict(err)
	}
	if err := tx.Commit(); err != nil {
		return mapConflict(err)
	}
	return nil
}

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

func mapConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %w", domain.ErrConcurrencyConflict, err)
		}
	}
	return err
}

// jsonText passes JSON to lib/pq as text; raw []byte would be sent as bytea.
func jsonText(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func IsDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation
}
