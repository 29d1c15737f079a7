package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/eventgate/internal/auth"
)

type contextKey string

const principalKey contextKey = "principal"

// SetPrincipal attaches the authenticated caller to ctx.
func SetPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the caller set by Authenticate or RequireAdminSecret.
func GetPrincipal(r *http.Request) (*auth.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(*auth.Principal)
	return p, ok && p != nil
}
