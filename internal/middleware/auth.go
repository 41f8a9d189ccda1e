package middleware

import (
	"net/http"
	"strings"

	"github.com/josh-kwaku/commerce-ledger/internal/auth"
	"github.com/josh-kwaku/commerce-ledger/internal/handler"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			principal, err := auth.ValidateToken(token, secret)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			ctx = logging.With(ctx, "user_id", principal.UserID, "customer_id", principal.CustomerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
