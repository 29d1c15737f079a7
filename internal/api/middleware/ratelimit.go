package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/api/response"
	"github.com/kiranshivaraju/eventgate/internal/ratelimit"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

// Admitter decides whether a credential may make another request.
type Admitter interface {
	Admit(ctx context.Context, credentialID string, tier models.Tier) (ratelimit.Decision, error)
}

// RateLimit applies the per-credential sliding window.
type RateLimit struct {
	limiter Admitter
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(l Admitter) *RateLimit {
	return &RateLimit{limiter: l}
}

// Limit admits the request for the principal set by Authenticate. Requests
// without a credential id pass through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipal(r)
		if !ok || p.CredentialID == "" {
			next.ServeHTTP(w, r)
			return
		}

		d, err := rl.limiter.Admit(r.Context(), p.CredentialID, p.Tier)

		var exceeded *ratelimit.ExceededError
		if err != nil && !errors.As(err, &exceeded) {
			// fail closed
			slog.Error("rate limiter unavailable", "credential_id", p.CredentialID, "error", err)
			response.Error(w, http.StatusInternalServerError, "Rate limiter unavailable")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ratelimit.WindowSize).Unix(), 10))

		if exceeded != nil {
			w.Header().Set("Retry-After", strconv.Itoa(int(ratelimit.WindowSize.Seconds())))
			response.Error(w, http.StatusTooManyRequests, exceeded.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}
