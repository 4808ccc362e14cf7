package embeddings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func hashedService(t *testing.T, redisAddr string) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Provider:    "hashed",
		AllowHashed: true,
		RedisAddr:   redisAddr,
		CacheTTL:    time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestServiceRequiresOptInForHashed(t *testing.T) {
	_, err := NewService(Config{Provider: "hashed"}, zap.NewNop())
	assert.ErrorContains(t, err, "opt-in")
}

func TestServiceRequiresBaseURLForHTTP(t *testing.T) {
	_, err := NewService(Config{Provider: "http"}, zap.NewNop())
	assert.Error(t, err)
}

func TestServiceRejectsUnknownProvider(t *testing.T) {
	_, err := NewService(Config{Provider: "quantum"}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown provider")
}

func TestEmbedCachesLocally(t *testing.T) {
	svc := hashedService(t, "")
	ctx := context.Background()

	a, err := svc.Embed(ctx, "some text")
	require.NoError(t, err)
	b, err := svc.Embed(ctx, "some text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedWritesThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	svc := hashedService(t, mr.Addr())
	ctx := context.Background()

	v, err := svc.Embed(ctx, "shared text")
	require.NoError(t, err)
	require.NotEmpty(t, v)

	// A second service instance sharing the redis sees the vector without
	// recomputing it.
	svc2 := hashedService(t, mr.Addr())
	key := MakeKey("hashed:", "shared text")
	got, ok := svc2.shared.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, v, got)
}

func TestRedisCacheRoundtrip(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(mr.Addr())
	require.NoError(t, err)
	ctx := context.Background()

	in := []float32{1.5, -2.25, 0}
	c.Set(ctx, "k", in, time.Minute)
	out, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, in, out)

	_, ok = c.Get(ctx, "absent")
	assert.False(t, ok)
}

func TestRedisUnavailableFallsBackToLRU(t *testing.T) {
	// Point at a dead address: the service still constructs and serves
	// from the local LRU.
	svc, err := NewService(Config{
		Provider:    "hashed",
		AllowHashed: true,
		RedisAddr:   "127.0.0.1:1",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, svc.shared)

	_, err = svc.Embed(context.Background(), "text")
	assert.NoError(t, err)
}

func TestLocalLRUTTLAndEviction(t *testing.T) {
	lru := NewLocalLRU(2)
	ctx := context.Background()

	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)
	_, ok := lru.Get(ctx, "a")
	require.True(t, ok)

	lru.Set(ctx, "c", []float32{3}, time.Minute)
	_, ok = lru.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry evicted")

	lru.Set(ctx, "d", []float32{4}, -time.Second)
	_, ok = lru.Get(ctx, "d")
	assert.False(t, ok, "expired entry dropped")
}
