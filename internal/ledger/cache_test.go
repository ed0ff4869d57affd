package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestBalanceCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewBalanceCache(client, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1, 1)
	require.False(t, ok)

	cache.Set(ctx, 1, 1, 2345.5)
	balance, ok := cache.Get(ctx, 1, 1)
	require.True(t, ok)
	require.InDelta(t, 2345.5, balance, 1e-9)

	// Different session is a different key.
	_, ok = cache.Get(ctx, 1, 2)
	require.False(t, ok)

	cache.Invalidate(ctx, 1, 1)
	_, ok = cache.Get(ctx, 1, 1)
	require.False(t, ok)
}

func TestBalanceCacheNilSafe(t *testing.T) {
	ctx := context.Background()
	var cache *BalanceCache

	_, ok := cache.Get(ctx, 1, 1)
	require.False(t, ok)
	cache.Set(ctx, 1, 1, 100)
	cache.Invalidate(ctx, 1, 1)

	// A constructed cache without a client behaves the same.
	cache = NewBalanceCache(nil, 0)
	cache.Set(ctx, 1, 1, 100)
	_, ok = cache.Get(ctx, 1, 1)
	require.False(t, ok)
}
