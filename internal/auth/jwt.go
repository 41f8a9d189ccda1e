package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const issuer = "commerce-ledger"

// Principal is the caller a token was issued for.
type Principal struct {
	UserID       uuid.UUID
	CustomerID   uuid.UUID
	CustomerType domain.CustomerType
	Email        string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	CustomerID   string `json:"customer_id"`
	CustomerType string `json:"customer_type"`
	Email        string `json:"email"`
}

func GenerateToken(p Principal, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		CustomerID:   p.CustomerID.String(),
		CustomerType: string(p.CustomerType),
		Email:        p.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: invalid token claims")
	}

	userID, err := uuid.Parse(tc.Subject)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: invalid subject in token: %w", err)
	}
	customerID, err := uuid.Parse(tc.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: invalid customer_id in token: %w", err)
	}
	typ := domain.CustomerType(tc.CustomerType)
	if typ != domain.CustomerTypeB2B && typ != domain.CustomerTypeB2C {
		return nil, fmt.Errorf("ValidateToken: invalid customer_type %q", tc.CustomerType)
	}

	return &Principal{
		UserID:       userID,
		CustomerID:   customerID,
		CustomerType: typ,
		Email:        tc.Email,
	}, nil
}
