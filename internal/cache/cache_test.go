package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kiranshivaraju/eventgate/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return rc
}

// setupMiniredis returns a RedisCache backed by an in-process miniredis.
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *cache.RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

func TestNewRedisCache_BadURL(t *testing.T) {
	_, err := cache.NewRedisCache("not a url")
	assert.Error(t, err)
}

// --- Hits ---

func TestAddHit_CountSince(t *testing.T) {
	_, rc := setupMiniredis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("cred-1")
	now := time.Now()

	require.NoError(t, rc.AddHit(ctx, key, now.Add(-2*time.Minute), time.Hour))
	require.NoError(t, rc.AddHit(ctx, key, now.Add(-30*time.Second), time.Hour))
	// same instant twice must count twice
	require.NoError(t, rc.AddHit(ctx, key, now, time.Hour))
	require.NoError(t, rc.AddHit(ctx, key, now, time.Hour))

	n, err := rc.CountHitsSince(ctx, key, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = rc.CountHitsSince(ctx, cache.RateLimitKey("other"), now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddHit_SetsTTL(t *testing.T) {
	mr, rc := setupMiniredis(t)
	key := cache.RateLimitKey("cred-ttl")

	require.NoError(t, rc.AddHit(context.Background(), key, time.Now(), time.Hour))
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(time.Hour + time.Second)
	assert.False(t, mr.Exists(key))
}

func TestRemoveHitsBefore(t *testing.T) {
	_, rc := setupMiniredis(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b"} {
		key := cache.RateLimitKey(id)
		require.NoError(t, rc.AddHit(ctx, key, now.Add(-2*time.Hour), 3*time.Hour))
		require.NoError(t, rc.AddHit(ctx, key, now, 3*time.Hour))
	}

	require.NoError(t, rc.RemoveHitsBefore(ctx, cache.RateLimitPattern, now.Add(-time.Hour)))

	for _, id := range []string{"a", "b"} {
		n, err := rc.CountHitsSince(ctx, cache.RateLimitKey(id), now.Add(-3*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, id)
	}
}

func TestAddHit_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("integration")
	now := time.Now()

	require.NoError(t, rc.AddHit(ctx, key, now, time.Minute))
	n, err := rc.CountHitsSince(ctx, key, now.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// --- Key builders ---

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:3f1c", cache.RateLimitKey("3f1c"))
}
