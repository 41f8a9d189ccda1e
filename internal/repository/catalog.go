package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const packageColumns = `id, name, provider_id, country_id, is_regional, coverage_countries,
	retail_price, cost_price, is_active, stock, created_at`

type PackageRepository struct {
	db *sql.DB
}

func NewPackageRepository(db *sql.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Package, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE id = $1`, id,
	)
	p, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

// TakeStock decrements a limited package's stock by one inside tx. Callers
// skip it for unlimited packages so their row is never locked; calling it
// for one reports ErrPackageUnavailable.
func (r *PackageRepository) TakeStock(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE packages SET stock = stock - 1
		WHERE id = $1 AND is_active AND stock IS NOT NULL AND stock > 0`, id,
	)
	if err != nil {
		return fmt.Errorf("TakeStock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("TakeStock: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("TakeStock: %w", domain.ErrPackageUnavailable)
	}
	return nil
}

func (r *PackageRepository) RestoreStock(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE packages SET stock = stock + 1 WHERE id = $1 AND stock IS NOT NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("RestoreStock: %w", err)
	}
	return nil
}

type CountryRepository struct {
	db *sql.DB
}

func NewCountryRepository(db *sql.DB) *CountryRepository {
	return &CountryRepository{db: db}
}

// IDsByNames resolves country names to ids. Unknown names are skipped.
func (r *CountryRepository) IDsByNames(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, id FROM countries WHERE name = ANY($1)`, pq.Array(names),
	)
	if err != nil {
		return nil, fmt.Errorf("IDsByNames: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]uuid.UUID, len(names))
	for rows.Next() {
		var name string
		var id uuid.UUID
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("IDsByNames: scan: %w", err)
		}
		ids[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("IDsByNames: rows: %w", err)
	}
	return ids, nil
}

func scanPackage(s scanner) (*domain.Package, error) {
	var p domain.Package
	var countryID uuid.NullUUID
	var coverage pq.StringArray
	var stock sql.NullInt64
	err := s.Scan(
		&p.ID, &p.Name, &p.ProviderID, &countryID, &p.IsRegional, &coverage,
		&p.RetailPrice, &p.CostPrice, &p.IsActive, &stock, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if countryID.Valid {
		p.CountryID = &countryID.UUID
	}
	p.CoverageCountries = []string(coverage)
	if stock.Valid {
		n := int(stock.Int64)
		p.Stock = &n
	}
	return &p, nil
}
