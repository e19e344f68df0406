package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRedisLimiter(client)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestRedisLimiter_Miniredis_SlidingWindow(t *testing.T) {
	l, mr, now := setupMiniredisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "auth-ip:10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "hit %d", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "auth-ip:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, now.Add(time.Minute).UnixMilli(), res.ResetAt.UnixMilli())

	assert.True(t, mr.Exists("account:ratelimit:auth-ip:10.0.0.1"))

	*now = now.Add(time.Minute + time.Millisecond)
	res, err = l.Allow(ctx, "auth-ip:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestRedisLimiter_Miniredis_KeysAreIndependent(t *testing.T) {
	l, _, _ := setupMiniredisLimiter(t)
	ctx := context.Background()

	res, err := l.Allow(ctx, "auth-email:a@example.com", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "auth-email:a@example.com", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Allow(ctx, "auth-email:b@example.com", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiter_Miniredis_ServerDown(t *testing.T) {
	l, mr, _ := setupMiniredisLimiter(t)
	mr.Close()

	_, err := l.Allow(context.Background(), "auth-ip:10.0.0.1", 3, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run rate limit script")
}
