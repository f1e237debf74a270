package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/solverpay-backend/api/responses"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
)

const apiKeyHeader = "X-API-Key"

// Authenticator resolves a presented API key to an active account.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Account, error)
}

// APIKeyAuth accepts "Authorization: Bearer <key>" or X-API-Key and seeds the
// request context with the owning account.
func APIKeyAuth(authn Authenticator, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := presentedAPIKey(r)
			if key == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing api key"))
				return
			}

			account, err := authn.Authenticate(r.Context(), key)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithAccountID(r.Context(), account.ID)
			if logg != nil {
				ctx = logg.WithAccountID(ctx, account.ID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func presentedAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return ""
}
