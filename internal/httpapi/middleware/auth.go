package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mediaqueue/jobqueue/internal/admission"
	"github.com/mediaqueue/jobqueue/internal/httpapi/response"
)

const sharedSecretHeader = "X-Worker-Secret"

// Authenticator is the subset of admission.Service the middleware needs.
type Authenticator interface {
	Authenticate(ctx context.Context, suppliedSecret string) error
}

// RequireSharedSecret enforces the X-Worker-Secret header check on
// /webhook/* routes. Other routes are mounted outside this middleware's
// chain and remain public (spec §6).
func RequireSharedSecret(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := r.Header.Get(sharedSecretHeader)
			if err := auth.Authenticate(r.Context(), secret); err != nil {
				slog.WarnContext(r.Context(), "auth: request rejected", "path", r.URL.Path, "method", r.Method)
				response.Unauthorized(w, "invalid or missing "+sharedSecretHeader)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
