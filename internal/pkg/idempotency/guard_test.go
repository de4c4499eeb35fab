package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisGuard(t *testing.T, ttl time.Duration) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisGuard(client, ttl), mr
}

func guardsUnderTest(t *testing.T) map[string]Guard {
	redisGuard, _ := setupRedisGuard(t, time.Hour)
	return map[string]Guard{
		"memory": NewMemoryGuard(time.Hour),
		"redis":  redisGuard,
	}
}

func TestGuard_MarkAndHasProcessed(t *testing.T) {
	for name, guard := range guardsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			seen, err := guard.HasProcessed(ctx, "evt_1")
			require.NoError(t, err)
			assert.False(t, seen)

			require.NoError(t, guard.MarkProcessed(ctx, "evt_1"))

			seen, err = guard.HasProcessed(ctx, "evt_1")
			require.NoError(t, err)
			assert.True(t, seen)

			seen, err = guard.HasProcessed(ctx, "evt_2")
			require.NoError(t, err)
			assert.False(t, seen)
		})
	}
}

func TestGuard_ClaimOnlyOnce(t *testing.T) {
	for name, guard := range guardsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := guard.Claim(ctx, "evt_1")
			require.NoError(t, err)
			assert.True(t, first)

			second, err := guard.Claim(ctx, "evt_1")
			require.NoError(t, err)
			assert.False(t, second)

			seen, err := guard.HasProcessed(ctx, "evt_1")
			require.NoError(t, err)
			assert.True(t, seen)
		})
	}
}

func TestGuard_ConcurrentClaims(t *testing.T) {
	for name, guard := range guardsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var winners int32
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := guard.Claim(ctx, "evt_race")
					if err == nil && ok {
						atomic.AddInt32(&winners, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), winners)
		})
	}
}

func TestGuard_RejectsEmptyID(t *testing.T) {
	for name, guard := range guardsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := guard.Claim(ctx, "  ")
			assert.Error(t, err)
			assert.Error(t, guard.MarkProcessed(ctx, ""))
			_, err = guard.HasProcessed(ctx, "")
			assert.Error(t, err)
		})
	}
}

func TestMemoryGuard_Expiry(t *testing.T) {
	guard := NewMemoryGuard(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(59 * time.Second)
	ok, _ = guard.Claim(ctx, "evt_1")
	assert.False(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = guard.Claim(ctx, "evt_1")
	assert.True(t, ok)
}

func TestMemoryGuard_NoTTLKeepsForever(t *testing.T) {
	guard := NewMemoryGuard(0)
	now := time.Now()
	guard.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, guard.MarkProcessed(ctx, "evt_1"))
	now = now.Add(24 * 365 * time.Hour)
	seen, err := guard.HasProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisGuard_TTL(t *testing.T) {
	guard, mr := setupRedisGuard(t, time.Hour)
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "evt_ttl")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(RedisKeyPrefix+"evt_ttl"))
	assert.Equal(t, time.Hour, mr.TTL(RedisKeyPrefix+"evt_ttl"))

	mr.FastForward(time.Hour + time.Second)

	ok, err = guard.Claim(ctx, "evt_ttl")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisGuard_UnreachableServer(t *testing.T) {
	guard, mr := setupRedisGuard(t, time.Hour)
	mr.Close()

	_, err := guard.Claim(context.Background(), "evt_1")
	assert.Error(t, err)
}
