package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/commerce-ledger/internal/auth"
	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

type userReader interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type customerByUser interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Customer, error)
}

type AuthHandler struct {
	users     userReader
	customers customerByUser
	jwtSecret string
	jwtExpiry time.Duration
}

func NewAuthHandler(users userReader, customers customerByUser, jwtSecret string, jwtExpiry time.Duration) *AuthHandler {
	return &AuthHandler{
		users:     users,
		customers: customers,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Email == "" {
		errs = append(errs, FieldError{Field: "email", Message: "required"})
	}
	if r.Password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "required"})
	}
	return errs
}

type loginResponse struct {
	Token    string      `json:"token"`
	Customer customerDTO `json:"customer"`
}

type customerDTO struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Type            string    `json:"type"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	DiscountPercent string    `json:"discount_percent"`
}

func toCustomerDTO(c *domain.Customer) customerDTO {
	return customerDTO{
		ID:              c.ID,
		UserID:          c.UserID,
		Type:            string(c.Type),
		Name:            c.Name,
		Email:           c.Email,
		DiscountPercent: c.DiscountPercent.StringFixed(2),
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	user, err := h.users.GetByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			RespondAppError(w, ErrInvalidCredentials, nil)
			return
		}
		RespondDomainError(w, err)
		return
	}

	if user.Status != domain.UserStatusActive {
		RespondAppError(w, ErrInvalidCredentials, nil)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		RespondAppError(w, ErrInvalidCredentials, nil)
		return
	}

	customer, err := h.customers.GetByUserID(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			RespondAppError(w, ErrInvalidCredentials, nil)
			return
		}
		RespondDomainError(w, err)
		return
	}

	token, err := auth.GenerateToken(auth.Principal{
		UserID:       user.ID,
		CustomerID:   customer.ID,
		CustomerType: customer.Type,
		Email:        user.Email,
	}, h.jwtSecret, h.jwtExpiry)
	if err != nil {
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	RespondSuccess(w, http.StatusOK, loginResponse{
		Token:    token,
		Customer: toCustomerDTO(customer),
	})
}
