package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/auth"
	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

func principalFrom(r *http.Request) (*auth.Principal, *AppError) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return nil, ErrMissingToken
	}
	return p, nil
}

// ownedOrder hides orders that belong to someone else behind a 404.
func ownedOrder(p *auth.Principal, o *domain.Order) *AppError {
	if o.CustomerID != p.CustomerID {
		return ErrResourceNotFound
	}
	return nil
}

func uuidFromPath(r *http.Request, name string) (uuid.UUID, *AppError) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, ErrResourceNotFound
	}
	return id, nil
}
