package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// Browser checkouts run from the web app; provider webhooks are server to
// server and never need CORS.
var defaultCORSOrigins = []string{"http://localhost:3000"}

// CORS applies the allowed origin policy. An empty list falls back to the
// local dev origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerIdempotencyKey, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, headerReplayed},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
