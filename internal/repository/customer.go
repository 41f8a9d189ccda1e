package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const userColumns = `id, email, name, password_hash, status, created_at`

const customerColumns = `id, user_id, type, name, email, discount_percent, created_at`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByEmail: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByEmail: %w", err)
	}
	return u, nil
}

// Ensure inserts u unless a user with the same email exists and returns the
// stored row either way. Concurrent callers with the same email converge on
// one user.
func (r *UserRepository) Ensure(ctx context.Context, tx *sql.Tx, u *domain.User) (*domain.User, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Status, u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("Ensure: %w", err)
	}
	stored, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, u.Email,
	))
	if err != nil {
		return nil, fmt.Errorf("Ensure: select: %w", err)
	}
	return stored, nil
}

type CustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id,
	)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrCustomerNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return c, nil
}

func (r *CustomerRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE user_id = $1`, userID,
	)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByUserID: %w", domain.ErrCustomerNotFound)
		}
		return nil, fmt.Errorf("GetByUserID: %w", err)
	}
	return c, nil
}

func (r *CustomerRepository) Ensure(ctx context.Context, tx *sql.Tx, c *domain.Customer) (*domain.Customer, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO customers (id, user_id, type, name, email, discount_percent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING`,
		c.ID, c.UserID, c.Type, c.Name, c.Email, c.DiscountPercent, c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("Ensure: %w", err)
	}
	stored, err := scanCustomer(tx.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE user_id = $1`, c.UserID,
	))
	if err != nil {
		return nil, fmt.Errorf("Ensure: select: %w", err)
	}
	return stored, nil
}

func scanUser(s scanner) (*domain.User, error) {
	var u domain.User
	err := s.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Status, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanCustomer(s scanner) (*domain.Customer, error) {
	var c domain.Customer
	err := s.Scan(&c.ID, &c.UserID, &c.Type, &c.Name, &c.Email, &c.DiscountPercent, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
