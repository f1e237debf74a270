package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/solverpay-backend/api/responses"
)

// CORS opens the public API to browser clients. Credentials travel in
// headers, so cookies are never allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Idempotency-Key", responses.RequestIDHeader},
		ExposedHeaders:   []string{"Retry-After", responses.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
