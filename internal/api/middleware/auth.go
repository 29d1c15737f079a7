package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/eventgate/internal/api/response"
	"github.com/kiranshivaraju/eventgate/internal/auth"
	"github.com/kiranshivaraju/eventgate/internal/metrics"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

const (
	HeaderAPIKey   = "x-api-key"
	HeaderAdminKey = "x-admin-key"
)

// Resolver resolves a raw API key to a principal.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (*auth.Principal, error)
}

// AdminChecker validates the administrative secret.
type AdminChecker interface {
	Check(presented string) (*auth.Principal, error)
}

// Auth provides the credential gate, the admin-secret gate and tier checks.
type Auth struct {
	gate  Resolver
	admin AdminChecker
}

// NewAuth creates a new Auth middleware.
func NewAuth(gate Resolver, admin AdminChecker) *Auth {
	return &Auth{gate: gate, admin: admin}
}

// Authenticate resolves x-api-key and sets the principal in the request
// context. A missing key is 401, an unknown or revoked key is 403.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.gate.Resolve(r.Context(), r.Header.Get(HeaderAPIKey))
		switch {
		case errors.Is(err, auth.ErrMissingCredential):
			metrics.AuthFailures.WithLabelValues("missing_credential").Inc()
			response.Error(w, http.StatusUnauthorized, err.Error())
			return
		case errors.Is(err, auth.ErrInvalidCredential):
			metrics.AuthFailures.WithLabelValues("invalid_credential").Inc()
			response.Error(w, http.StatusForbidden, err.Error())
			return
		case err != nil:
			slog.Error("credential lookup failed", "path", r.URL.Path, "error", err)
			response.Error(w, http.StatusInternalServerError, "Failed to validate API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), p)))
	})
}

// RequireAdminSecret checks x-admin-key and grants the implicit admin tier.
func (a *Auth) RequireAdminSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.admin.Check(r.Header.Get(HeaderAdminKey))
		if err != nil {
			status := http.StatusForbidden
			reason := "invalid_admin_secret"
			if errors.Is(err, auth.ErrMissingAdminSecret) {
				status = http.StatusUnauthorized
				reason = "missing_admin_secret"
			}
			metrics.AuthFailures.WithLabelValues(reason).Inc()
			response.Error(w, status, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), p)))
	})
}

// RequireTier returns middleware that rejects principals ranked below required.
func RequireTier(required models.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var resolved models.Tier
			if p, ok := GetPrincipal(r); ok {
				resolved = p.Tier
			}
			if err := auth.RequireTier(resolved, required); err != nil {
				metrics.AuthFailures.WithLabelValues("insufficient_tier").Inc()
				response.Error(w, http.StatusForbidden, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
