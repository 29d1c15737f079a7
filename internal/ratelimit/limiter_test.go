package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kiranshivaraju/eventgate/internal/cache"
	"github.com/kiranshivaraju/eventgate/internal/ratelimit"
	"github.com/kiranshivaraju/eventgate/internal/store"
	"github.com/kiranshivaraju/eventgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type failingWindow struct {
	countErr, recordErr, pruneErr error
	records, prunes               int
}

func (f *failingWindow) Count(context.Context, string, time.Time) (int, error) { return 0, f.countErr }
func (f *failingWindow) Record(context.Context, string, time.Time) error {
	f.records++
	return f.recordErr
}
func (f *failingWindow) Prune(context.Context, time.Time) error {
	f.prunes++
	return f.pruneErr
}

func windows(t *testing.T) map[string]ratelimit.Window {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return map[string]ratelimit.Window{
		"store":  ratelimit.NewStoreWindow(store.NewMemoryStore()),
		"redis":  ratelimit.NewRedisWindow(rc),
		"memory": ratelimit.NewMemoryWindow(),
	}
}

func TestLimitFor(t *testing.T) {
	assert.Equal(t, 1000, ratelimit.LimitFor(models.TierAdmin))
	assert.Equal(t, 500, ratelimit.LimitFor(models.TierWrite))
	assert.Equal(t, 100, ratelimit.LimitFor(models.TierRead))
	assert.Equal(t, 100, ratelimit.LimitFor("unknown"))
	assert.Equal(t, 100, ratelimit.LimitFor(""))
}

func TestAdmit_LimitThenRejectThenRecover(t *testing.T) {
	for name, w := range windows(t) {
		t.Run(name, func(t *testing.T) {
			clk := newClock()
			l := ratelimit.NewLimiter(w, ratelimit.WithClock(clk.Now))
			ctx := context.Background()
			limit := ratelimit.LimitFor(models.TierRead)

			for i := 1; i <= limit; i++ {
				d, err := l.Admit(ctx, "cred-read", models.TierRead)
				require.NoError(t, err, "attempt %d", i)
				assert.Equal(t, limit-i, d.Remaining)
				clk.Advance(100 * time.Millisecond)
			}

			d, err := l.Admit(ctx, "cred-read", models.TierRead)
			var exceeded *ratelimit.ExceededError
			require.ErrorAs(t, err, &exceeded)
			assert.Equal(t, limit, exceeded.Limit)
			assert.Equal(t, models.TierRead, exceeded.Tier)
			assert.Equal(t, "Rate limit exceeded. Límite: 100 requests/minuto para role read", err.Error())
			assert.Equal(t, 0, d.Remaining)

			// rejected attempts are not recorded
			n, err := w.Count(ctx, "cred-read", clk.Now().Add(-ratelimit.WindowSize))
			require.NoError(t, err)
			assert.Equal(t, limit, n)

			// other credentials are unaffected
			_, err = l.Admit(ctx, "cred-other", models.TierRead)
			assert.NoError(t, err)

			clk.Advance(ratelimit.WindowSize)
			_, err = l.Admit(ctx, "cred-read", models.TierRead)
			assert.NoError(t, err)
		})
	}
}

func TestAdmit_UnknownTierUsesReadLimit(t *testing.T) {
	clk := newClock()
	l := ratelimit.NewLimiter(ratelimit.NewMemoryWindow(), ratelimit.WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < ratelimit.DefaultLimit; i++ {
		_, err := l.Admit(ctx, "k", "superuser")
		require.NoError(t, err)
	}
	_, err := l.Admit(ctx, "k", "superuser")
	var exceeded *ratelimit.ExceededError
	assert.ErrorAs(t, err, &exceeded)
}

func TestAdmit_SlidingNotFixed(t *testing.T) {
	clk := newClock()
	l := ratelimit.NewLimiter(ratelimit.NewMemoryWindow(), ratelimit.WithClock(clk.Now))
	ctx := context.Background()

	// 50 early, 50 at +40s: the window is full at +50s
	for i := 0; i < 50; i++ {
		_, err := l.Admit(ctx, "k", models.TierRead)
		require.NoError(t, err)
	}
	clk.Advance(40 * time.Second)
	for i := 0; i < 50; i++ {
		_, err := l.Admit(ctx, "k", models.TierRead)
		require.NoError(t, err)
	}
	clk.Advance(10 * time.Second)
	_, err := l.Admit(ctx, "k", models.TierRead)
	require.Error(t, err)

	// the first 50 slide out after 60s
	clk.Advance(11 * time.Second)
	d, err := l.Admit(ctx, "k", models.TierRead)
	require.NoError(t, err)
	assert.Equal(t, 51, d.Count)
}

func TestAdmit_CountFailureFailsClosed(t *testing.T) {
	w := &failingWindow{countErr: errors.New("connection reset")}
	_, err := ratelimit.NewLimiter(w).Admit(context.Background(), "k", models.TierAdmin)

	require.Error(t, err)
	var exceeded *ratelimit.ExceededError
	assert.False(t, errors.As(err, &exceeded))
	assert.Zero(t, w.records)
}

func TestAdmit_RecordAndPruneFailuresAreLogged(t *testing.T) {
	w := &failingWindow{recordErr: errors.New("x"), pruneErr: errors.New("y")}
	d, err := ratelimit.NewLimiter(w).Admit(context.Background(), "k", models.TierWrite)
	require.NoError(t, err)
	assert.Equal(t, 500, d.Limit)
	assert.Equal(t, 1, w.prunes)
}

func TestAdmit_PruneIsThrottled(t *testing.T) {
	clk := newClock()
	w := &failingWindow{}
	l := ratelimit.NewLimiter(w, ratelimit.WithClock(clk.Now), ratelimit.WithPruneInterval(time.Minute))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Admit(ctx, "k", models.TierAdmin)
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	assert.Equal(t, 1, w.prunes)

	clk.Advance(time.Minute)
	_, err := l.Admit(ctx, "k", models.TierAdmin)
	require.NoError(t, err)
	assert.Equal(t, 2, w.prunes)
}

func TestWindows_PruneDropsOldHits(t *testing.T) {
	for name, w := range windows(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			require.NoError(t, w.Record(ctx, "old", now.Add(-2*time.Hour)))
			require.NoError(t, w.Record(ctx, "fresh", now.Add(-time.Minute)))
			require.NoError(t, w.Prune(ctx, now.Add(-ratelimit.Retention)))

			n, err := w.Count(ctx, "old", now.Add(-3*time.Hour))
			require.NoError(t, err)
			assert.Zero(t, n)

			n, err = w.Count(ctx, "fresh", now.Add(-3*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestMemoryWindow_RingKeepsLatest(t *testing.T) {
	w := ratelimit.NewMemoryWindow()
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 1200; i++ {
		require.NoError(t, w.Record(ctx, "k", start.Add(time.Duration(i)*time.Millisecond)))
	}
	n, err := w.Count(ctx, "k", start.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	n, err = w.Count(ctx, "k", start.Add(1100*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 99, n)
}
