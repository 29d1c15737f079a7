// Package analytics maintains hourly per-account, per-type event counters
// and reads them back for reporting.
package analytics

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/metrics"
	"github.com/kiranshivaraju/eventgate/internal/store"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

// BucketStore is the subset of store.Store the aggregator needs.
type BucketStore interface {
	IncrementBucket(ctx context.Context, account, eventType string, hour time.Time) error
	SumByType(ctx context.Context, account string, since time.Time) ([]models.TypeTotal, error)
	ListBuckets(ctx context.Context, filter store.BucketFilter) ([]*models.AnalyticsBucket, error)
	TopAccounts(ctx context.Context, since time.Time, limit int) ([]models.AccountTotal, error)
}

// Aggregator owns the analytics buckets. The counters are a derived view:
// write failures are logged and never reach the ingest caller.
type Aggregator struct {
	store BucketStore
}

func NewAggregator(s BucketStore) *Aggregator {
	return &Aggregator{store: s}
}

// HourOf truncates t to the start of its UTC hour.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Increment adds one event to the (account, type, hour) bucket.
func (a *Aggregator) Increment(ctx context.Context, account, eventType string, occurredAt time.Time) {
	hour := HourOf(occurredAt)
	if err := a.store.IncrementBucket(ctx, account, eventType, hour); err != nil {
		metrics.AnalyticsFailures.Inc()
		slog.Warn("analytics increment failed",
			"account", account, "type", eventType, "hour", hour, "error", err)
	}
}

// Summary returns event totals by type for account since the given time.
func (a *Aggregator) Summary(ctx context.Context, account string, since time.Time) ([]models.TypeTotal, error) {
	return a.store.SumByType(ctx, account, HourOf(since))
}

// Series returns the hourly buckets for account, optionally limited to one type.
func (a *Aggregator) Series(ctx context.Context, account, eventType string, since time.Time) ([]*models.AnalyticsBucket, error) {
	return a.store.ListBuckets(ctx, store.BucketFilter{
		Account: account,
		Type:    eventType,
		Since:   HourOf(since),
	})
}

func (a *Aggregator) TopAccounts(ctx context.Context, since time.Time, limit int) ([]models.AccountTotal, error) {
	if limit <= 0 {
		limit = 10
	}
	return a.store.TopAccounts(ctx, HourOf(since), limit)
}

// Stats is the headline view of one account over a period.
type Stats struct {
	TotalEvents   int64   `json:"total_eventos"`
	TopType       *string `json:"evento_mas_frecuente"`
	TopTypeEvents int64   `json:"eventos_tipo_frecuente"`
	DailyAverage  int64   `json:"promedio_eventos_por_dia"`
}

// Stats totals the account's buckets since the given time. DailyAverage is
// the rounded mean over the UTC days that saw at least one event.
func (a *Aggregator) Stats(ctx context.Context, account string, since time.Time) (Stats, error) {
	buckets, err := a.Series(ctx, account, "", since)
	if err != nil {
		return Stats{}, err
	}

	var out Stats
	byType := map[string]int64{}
	days := map[string]struct{}{}
	for _, b := range buckets {
		out.TotalEvents += b.Count
		byType[b.EventType] += b.Count
		days[b.HourStart.Format(time.DateOnly)] = struct{}{}
	}
	for t, n := range byType {
		if n > out.TopTypeEvents || (n == out.TopTypeEvents && out.TopType != nil && t < *out.TopType) {
			name := t
			out.TopType = &name
			out.TopTypeEvents = n
		}
	}
	if len(days) > 0 {
		out.DailyAverage = int64(math.Round(float64(out.TotalEvents) / float64(len(days))))
	}
	return out, nil
}
