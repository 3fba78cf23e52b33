package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows credentials only when the origin list is explicit, since the
// refresh cookie must never be exposed to a wildcard origin.
func CORS(origins []string, allowCredentials bool) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	wildcard := false
	for _, origin := range origins {
		if origin == "*" {
			wildcard = true
			break
		}
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
		MaxAge:           3600,
		AllowCredentials: allowCredentials && !wildcard,
	})

	return handler.Handler
}
