// Package ratelimit bounds request volume per credential over a sliding
// 60 second window. The window storage is pluggable.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/metrics"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

const (
	// WindowSize is the span over which hits are counted.
	WindowSize = time.Minute
	// Retention is how long hits are kept before pruning.
	Retention = time.Hour
	// DefaultPruneInterval is the minimum gap between two prunes.
	DefaultPruneInterval = time.Minute
	// DefaultLimit applies to tiers without an entry in the limit table.
	DefaultLimit = 100
)

var tierLimits = map[models.Tier]int{
	models.TierAdmin: 1000,
	models.TierWrite: 500,
	models.TierRead:  100,
}

// LimitFor returns the per-minute limit for a tier.
func LimitFor(t models.Tier) int {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return DefaultLimit
}

// Window stores timestamped hits per key.
type Window interface {
	// Count returns the number of hits for key strictly after since.
	Count(ctx context.Context, key string, since time.Time) (int, error)
	Record(ctx context.Context, key string, at time.Time) error
	// Prune drops hits older than before for every key.
	Prune(ctx context.Context, before time.Time) error
}

// Decision is the outcome of an admitted request.
type Decision struct {
	Limit     int
	Remaining int
	Count     int
}

// ExceededError is returned when the window is full for the caller's tier.
type ExceededError struct {
	Limit int
	Tier  models.Tier
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Límite: %d requests/minuto para role %s", e.Limit, e.Tier)
}

// Limiter admits or rejects requests. Count and record are two separate
// window calls, so concurrent requests for one key may overshoot by a few.
type Limiter struct {
	window        Window
	now           func() time.Time
	pruneInterval time.Duration

	mu        sync.Mutex
	lastPrune time.Time
}

type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithPruneInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.pruneInterval = d
		}
	}
}

func NewLimiter(w Window, opts ...Option) *Limiter {
	l := &Limiter{
		window:        w,
		now:           time.Now,
		pruneInterval: DefaultPruneInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit counts the hits of credentialID in the last WindowSize. A full window
// returns *ExceededError and records nothing; otherwise one hit is recorded.
// A Count failure is returned as-is so callers can fail closed.
func (l *Limiter) Admit(ctx context.Context, credentialID string, tier models.Tier) (Decision, error) {
	limit := LimitFor(tier)
	now := l.now()

	count, err := l.window.Count(ctx, credentialID, now.Add(-WindowSize))
	if err != nil {
		return Decision{Limit: limit}, fmt.Errorf("counting rate window: %w", err)
	}

	if count >= limit {
		metrics.RateLimitDecisions.WithLabelValues(string(tier), "rejected").Inc()
		return Decision{Limit: limit, Remaining: 0, Count: count}, &ExceededError{Limit: limit, Tier: tier}
	}

	if err := l.window.Record(ctx, credentialID, now); err != nil {
		slog.Warn("rate window record failed", "credential_id", credentialID, "error", err)
	}
	metrics.RateLimitDecisions.WithLabelValues(string(tier), "admitted").Inc()

	l.maybePrune(ctx, now)

	return Decision{Limit: limit, Remaining: limit - count - 1, Count: count + 1}, nil
}

func (l *Limiter) maybePrune(ctx context.Context, now time.Time) {
	l.mu.Lock()
	if now.Sub(l.lastPrune) < l.pruneInterval {
		l.mu.Unlock()
		return
	}
	l.lastPrune = now
	l.mu.Unlock()

	if err := l.window.Prune(ctx, now.Add(-Retention)); err != nil {
		slog.Warn("rate window prune failed", "error", err)
	}
}
