package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/eventgate/internal/api/middleware"
	"github.com/kiranshivaraju/eventgate/internal/api/response"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	StatusHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateEvent http.HandlerFunc
	ListEvents  http.HandlerFunc
	LatestEvent http.HandlerFunc

	CreateAccount http.HandlerFunc
	ListAccounts  http.HandlerFunc

	Summary     http.HandlerFunc
	Series      http.HandlerFunc
	TopAccounts http.HandlerFunc
	Stats       http.HandlerFunc

	IssueKey  http.HandlerFunc
	RevokeKey http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
//
// Credentialed routes run Authenticate, then the rate limiter, then the
// per-route tier check, so a rejected tier still counts against the window.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(response.NotFound)
	r.MethodNotAllowed(response.MethodNotAllowed)

	// Public
	r.Get("/status", orNotImplemented(deps.StatusHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Admin secret
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.RequireAdminSecret)

		r.Post("/admin/api-keys", orNotImplemented(deps.IssueKey))
		r.Post("/admin/api-keys/revoke", orNotImplemented(deps.RevokeKey))
	})

	// API key
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		read := r.With(mw.RequireTier(models.TierRead))
		write := r.With(mw.RequireTier(models.TierWrite))
		admin := r.With(mw.RequireTier(models.TierAdmin))

		write.Post("/eventos", orNotImplemented(deps.CreateEvent))
		read.Get("/eventos", orNotImplemented(deps.ListEvents))
		read.Get("/eventos/ultimo", orNotImplemented(deps.LatestEvent))

		read.Get("/cuentas", orNotImplemented(deps.ListAccounts))
		admin.Post("/cuentas", orNotImplemented(deps.CreateAccount))

		read.Get("/analytics/resumen", orNotImplemented(deps.Summary))
		read.Get("/analytics/serie", orNotImplemented(deps.Series))
		read.Get("/analytics/estadisticas", orNotImplemented(deps.Stats))
		admin.Get("/analytics/top-cuentas", orNotImplemented(deps.TopAccounts))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "Endpoint not yet implemented")
	}
}
