package replay_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/internal/testkeys"
	"github.com/oarkflow/pop/replay"
	"github.com/oarkflow/pop/request"
	"github.com/oarkflow/pop/token"
)

var (
	_ replay.Cache     = (*replay.MemoryCache)(nil)
	_ replay.Cache     = (*replay.RedisCache)(nil)
	_ token.NonceStore = replay.Cache(nil)
)

func setupRedis(t *testing.T) (*replay.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := replay.NewRedisCache(context.Background(), replay.RedisConfig{Address: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestMemoryCacheRecord(t *testing.T) {
	c := replay.NewMemoryCache(replay.WithCleanupInterval(0))
	defer c.Close()
	ctx := context.Background()

	fresh, err := c.Record(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = c.Record(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = c.Record(ctx, "n2")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCacheInvalidNonce(t *testing.T) {
	c := replay.NewMemoryCache(replay.WithCleanupInterval(0))
	defer c.Close()

	_, err := c.Record(context.Background(), "")
	assert.ErrorIs(t, err, replay.ErrInvalidNonce)
	_, err = c.Record(context.Background(), strings.Repeat("n", replay.MaxNonceLength+1))
	assert.ErrorIs(t, err, replay.ErrInvalidNonce)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := replay.NewMemoryCache(replay.WithTTL(20*time.Millisecond), replay.WithCleanupInterval(0))
	defer c.Close()
	ctx := context.Background()

	fresh, err := c.Record(ctx, "n")
	require.NoError(t, err)
	require.True(t, fresh)

	time.Sleep(40 * time.Millisecond)
	fresh, err = c.Record(ctx, "n")
	require.NoError(t, err)
	assert.True(t, fresh, "expired nonce is accepted again")
}

func TestMemoryCacheSweep(t *testing.T) {
	c := replay.NewMemoryCache(replay.WithTTL(10*time.Millisecond), replay.WithCleanupInterval(5*time.Millisecond))
	defer c.Close()

	for _, n := range []string{"a", "b", "c"} {
		_, err := c.Record(context.Background(), n)
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryCacheFull(t *testing.T) {
	c := replay.NewMemoryCache(replay.WithMaxEntries(2), replay.WithCleanupInterval(0))
	defer c.Close()
	ctx := context.Background()

	for _, n := range []string{"a", "b"} {
		_, err := c.Record(ctx, n)
		require.NoError(t, err)
	}
	_, err := c.Record(ctx, "c")
	assert.ErrorIs(t, err, replay.ErrCacheFull)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCacheConcurrentRecordAcceptsOnce(t *testing.T) {
	c := replay.NewMemoryCache()
	defer c.Close()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := c.Record(context.Background(), "shared")
			if err == nil && fresh {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}

func TestMemoryCacheCloseTwice(t *testing.T) {
	c := replay.NewMemoryCache()
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestRedisCacheRecord(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	fresh, err := c.Record(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.True(t, mr.Exists(replay.DefaultKeyPrefix+"n1"))
	assert.Equal(t, time.Minute, mr.TTL(replay.DefaultKeyPrefix+"n1"))

	fresh, err = c.Record(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, fresh)

	mr.FastForward(2 * time.Minute)
	fresh, err = c.Record(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, fresh, "expired nonce is accepted again")

	_, err = c.Record(ctx, "")
	assert.ErrorIs(t, err, replay.ErrInvalidNonce)
}

func TestRedisCacheSharedAcrossVerifiers(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	a := replay.NewRedisCacheFromClient(rdb, "svc:", 0)
	b := replay.NewRedisCacheFromClient(rdb, "svc:", 0)

	fresh, err := a.Record(context.Background(), "n")
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = b.Record(context.Background(), "n")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, replay.DefaultTTL, mr.TTL("svc:n"))

	require.NoError(t, a.Close())
	assert.NoError(t, rdb.Ping(context.Background()).Err(), "borrowed client stays open")
}

func TestRedisCacheUnavailable(t *testing.T) {
	c, mr := setupRedis(t)
	addr := mr.Addr()
	mr.Close()

	_, err := c.Record(context.Background(), "n")
	assert.Error(t, err)

	_, err = replay.NewRedisCache(context.Background(), replay.RedisConfig{Address: addr})
	assert.Error(t, err)
}

func TestVerifierRejectsReplayWithRedis(t *testing.T) {
	c, _ := setupRedis(t)
	id := testkeys.Identity(t, testkeys.RSA(t))
	req := request.MustNew("GET", "/b/c", "d=e").WithToken("XYZ")
	v := token.NewVerifier(token.WithReplayCache(c))

	tok, err := token.Build(id, req, token.WithNonce())
	require.NoError(t, err)

	res, err := v.Verify(tok, req, id)
	require.NoError(t, err)
	assert.True(t, res.Valid, "%v", res.Reason)

	res, err = v.Verify(tok, req, id)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Reason, pop.ErrReplay)
}
