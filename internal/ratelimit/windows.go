package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/cache"
)

// HitStore is the persistent hit log, implemented by store.Store.
type HitStore interface {
	CountRateHits(ctx context.Context, key string, since time.Time) (int, error)
	InsertRateHit(ctx context.Context, key string, at time.Time) error
	DeleteRateHitsBefore(ctx context.Context, before time.Time) error
}

// StoreWindow keeps one row per hit in the rate_limits table.
type StoreWindow struct {
	store HitStore
}

func NewStoreWindow(s HitStore) *StoreWindow {
	return &StoreWindow{store: s}
}

func (w *StoreWindow) Count(ctx context.Context, key string, since time.Time) (int, error) {
	return w.store.CountRateHits(ctx, key, since)
}

func (w *StoreWindow) Record(ctx context.Context, key string, at time.Time) error {
	return w.store.InsertRateHit(ctx, key, at)
}

func (w *StoreWindow) Prune(ctx context.Context, before time.Time) error {
	return w.store.DeleteRateHitsBefore(ctx, before)
}

// RedisWindow keeps one sorted set per key, scored by hit time.
type RedisWindow struct {
	cache cache.Cache
}

func NewRedisWindow(c cache.Cache) *RedisWindow {
	return &RedisWindow{cache: c}
}

func (w *RedisWindow) Count(ctx context.Context, key string, since time.Time) (int, error) {
	n, err := w.cache.CountHitsSince(ctx, cache.RateLimitKey(key), since)
	return int(n), err
}

func (w *RedisWindow) Record(ctx context.Context, key string, at time.Time) error {
	return w.cache.AddHit(ctx, cache.RateLimitKey(key), at, Retention)
}

func (w *RedisWindow) Prune(ctx context.Context, before time.Time) error {
	return w.cache.RemoveHitsBefore(ctx, cache.RateLimitPattern, before)
}

// memoryCapacity bounds each ring. It must be at least the largest tier limit.
const memoryCapacity = 1000

// MemoryWindow keeps a fixed-size ring of hit times per key. It is only
// correct for a single process.
type MemoryWindow struct {
	mu    sync.Mutex
	rings map[string]*ring
}

func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{rings: map[string]*ring{}}
}

func (w *MemoryWindow) Count(_ context.Context, key string, since time.Time) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.rings[key]
	if !ok {
		return 0, nil
	}
	return r.countAfter(since), nil
}

func (w *MemoryWindow) Record(_ context.Context, key string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.rings[key]
	if !ok {
		r = &ring{buf: make([]time.Time, memoryCapacity)}
		w.rings[key] = r
	}
	r.add(at)
	return nil
}

func (w *MemoryWindow) Prune(_ context.Context, before time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for key, r := range w.rings {
		if r.newest().Before(before) {
			delete(w.rings, key)
		}
	}
	return nil
}

type ring struct {
	buf  []time.Time
	next int
	size int
}

func (r *ring) add(t time.Time) {
	r.buf[r.next] = t
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *ring) newest() time.Time {
	if r.size == 0 {
		return time.Time{}
	}
	return r.buf[(r.next-1+len(r.buf))%len(r.buf)]
}

func (r *ring) countAfter(since time.Time) int {
	n := 0
	for i := 0; i < r.size; i++ {
		if r.buf[i].After(since) {
			n++
		}
	}
	return n
}
