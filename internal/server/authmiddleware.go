package server

import (
	"context"
	"net/http"

	"github.com/accordly/case-insight/internal/auth"
	"github.com/accordly/case-insight/internal/domain"
)

// principalKey is the context key for the authenticated principal.
type principalKey struct{}

// AuthMiddleware validates API keys and injects the authenticated principal
// into the request context. The API key is extracted from the X-Api-Key
// header or the Authorization header (Bearer token format).
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Liveness probes carry no credentials.
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				writeError(w, r, domain.ErrAuthentication(err.Error()))
				return
			}

			principal, err := authenticator.ValidateAPIKey(apiKey)
			if err != nil {
				writeError(w, r, domain.ErrAuthentication("invalid API key"))
				return
			}

			AddLogField(r.Context(), "principal", principal)
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Principal retrieves the authenticated principal from context.
// Returns an empty string when auth is disabled or the request is anonymous.
func Principal(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(string); ok {
		return p
	}
	return ""
}
