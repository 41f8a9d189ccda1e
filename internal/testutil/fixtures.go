package testutil

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

const TestPassword = "password123"

// NewDB wraps a test pool in the repository transaction runner with short
// retry delays.
func NewDB(db *sql.DB) *repository.DB {
	return repository.NewDB(db, repository.TxOptions{
		LockTimeout: 5 * time.Second,
		MaxRetries:  5,
		BaseDelay:   5 * time.Millisecond,
	})
}

func SeedCustomer(t *testing.T, db *sql.DB, email string, typ domain.CustomerType) *domain.Customer {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	now := time.Now().UTC()
	userID := uuid.New()
	_, err = db.Exec(
		`INSERT INTO users (id, email, name, password_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, 'active', $5)`,
		userID, email, email, string(hash), now,
	)
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}

	c := &domain.Customer{
		ID:              uuid.New(),
		UserID:          userID,
		Type:            typ,
		Name:            email,
		Email:           email,
		DiscountPercent: decimal.Zero,
		CreatedAt:       now,
	}
	_, err = db.Exec(
		`INSERT INTO customers (id, user_id, type, name, email, discount_percent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, c.Type, c.Name, c.Email, c.DiscountPercent, c.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed customer %s: %v", email, err)
	}
	return c
}

func SetCustomerDiscount(t *testing.T, db *sql.DB, customerID uuid.UUID, pct string) {
	t.Helper()
	if _, err := db.Exec(`UPDATE customers SET discount_percent = $1 WHERE id = $2`, pct, customerID); err != nil {
		t.Fatalf("set discount: %v", err)
	}
}

func SeedBalance(t *testing.T, db *sql.DB, customerID uuid.UUID, balance, reserved string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO balance_accounts (customer_id, balance, reserved) VALUES ($1, $2, $3)
		 ON CONFLICT (customer_id) DO UPDATE SET balance = EXCLUDED.balance, reserved = EXCLUDED.reserved`,
		customerID, balance, reserved,
	)
	if err != nil {
		t.Fatalf("seed balance %s: %v", customerID, err)
	}
}

func GetBalance(t *testing.T, db *sql.DB, customerID uuid.UUID) (balance, reserved decimal.Decimal) {
	t.Helper()
	err := db.QueryRow(
		`SELECT balance, reserved FROM balance_accounts WHERE customer_id = $1`, customerID,
	).Scan(&balance, &reserved)
	if err != nil {
		t.Fatalf("get balance %s: %v", customerID, err)
	}
	return balance, reserved
}

func SeedCountry(t *testing.T, db *sql.DB, name, iso string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := db.Exec(`INSERT INTO countries (id, name, iso_code) VALUES ($1, $2, $3)`, id, name, iso); err != nil {
		t.Fatalf("seed country %s: %v", name, err)
	}
	return id
}

func SeedProvider(t *testing.T, db *sql.DB, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := db.Exec(`INSERT INTO providers (id, name) VALUES ($1, $2)`, id, name); err != nil {
		t.Fatalf("seed provider %s: %v", name, err)
	}
	return id
}

type PackageSeed struct {
	Name              string
	ProviderID        uuid.UUID
	CountryID         *uuid.UUID
	CoverageCountries []string
	RetailPrice       string
	CostPrice         string
	Inactive          bool
	Stock             *int
}

func SeedPackage(t *testing.T, db *sql.DB, s PackageSeed) *domain.Package {
	t.Helper()
	if s.Name == "" {
		s.Name = "Test 5GB"
	}
	if s.CostPrice == "" {
		s.CostPrice = "1.00"
	}
	if s.ProviderID == uuid.Nil {
		s.ProviderID = SeedProvider(t, db, "provider-"+uuid.NewString()[:8])
	}
	id := uuid.New()
	_, err := db.Exec(
		`INSERT INTO packages (id, name, provider_id, country_id, is_regional, coverage_countries,
			retail_price, cost_price, is_active, stock)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, s.Name, s.ProviderID, s.CountryID, len(s.CoverageCountries) > 0, pq.Array(s.CoverageCountries),
		s.RetailPrice, s.CostPrice, !s.Inactive, s.Stock,
	)
	if err != nil {
		t.Fatalf("seed package %s: %v", s.Name, err)
	}
	p, err := repository.NewPackageRepository(db).GetByID(t.Context(), id)
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	return p
}

func SeedCoupon(t *testing.T, db *sql.DB, c *domain.Coupon) *domain.Coupon {
	t.Helper()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Code = domain.NormalizeCouponCode(c.Code)
	if err := repository.NewCouponRepository(db).Create(t.Context(), c); err != nil {
		t.Fatalf("seed coupon %s: %v", c.Code, err)
	}
	return c
}

// CountRows counts rows in table matching where, e.g. "customer_id = $1".
func CountRows(t *testing.T, db *sql.DB, table, where string, args ...any) int {
	t.Helper()
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if strings.TrimSpace(where) != "" {
		query += " WHERE " + where
	}
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func IntPtr(n int) *int { return &n }
