package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-agent/middleware/telemetry/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	opts := RedisConfig{Addrs: []string{mr.Addr()}}.AsUniversalOptions()
	opts.DisableIdentity = true
	rdb := redis.NewUniversalClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisKeyCache_StoreAndRetrieve(t *testing.T) {
	mr, rdb := newTestRedis(t)
	key := domain.CacheKey(testClientID, "dev")
	cache := NewRedisKeyCache(rdb, key)
	ctx := context.Background()

	_, ok, err := cache.Retrieve(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	blob := []byte(`{"salt":"x","keys":{}}`)
	require.NoError(t, cache.Store(ctx, blob))

	got, ok, err := cache.Retrieve(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, blob, got)

	raw, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, string(blob), raw)
	assert.Zero(t, mr.TTL(key))
}

func TestRedisKeyCache_TTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cache := NewRedisKeyCache(rdb, "k", WithCacheTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, []byte("v")))
	assert.Equal(t, time.Hour, mr.TTL("k"))

	mr.FastForward(2 * time.Hour)
	_, ok, err := cache.Retrieve(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisKeyCache_ErrorWhenUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cache := NewRedisKeyCache(rdb, "k")
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := cache.Retrieve(ctx)
	assert.Error(t, err)
	assert.Error(t, cache.Store(ctx, []byte("v")))
}

func TestMemoryKeyCache(t *testing.T) {
	cache := NewMemoryKeyCache()
	ctx := context.Background()

	_, ok, err := cache.Retrieve(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	blob := []byte("abc")
	require.NoError(t, cache.Store(ctx, blob))
	blob[0] = 'z'

	got, ok, err := cache.Retrieve(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), got)
}

func TestFileKeyCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	cache := NewFileKeyCache(dir, domain.CacheKey(testClientID, "dev"))
	ctx := context.Background()

	assert.Equal(t, "telemetry_keys_"+testClientID+"_dev.json", filepath.Base(cache.Path()))

	_, ok, err := cache.Retrieve(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Store(ctx, []byte("first")))
	require.NoError(t, cache.Store(ctx, []byte("second")))

	got, ok, err := cache.Retrieve(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("second"), got)

	// só o arquivo final, sem temporários sobrando
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
