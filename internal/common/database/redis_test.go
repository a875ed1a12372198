package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFromClient(rdb, "test:"), mr
}

func TestRedisClient_GetSet(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()

	_, err := client.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, client.Set(ctx, "apns:token", "jwt-value", time.Minute))
	assert.True(t, mr.Exists("test:apns:token"))

	val, err := client.Get(ctx, "apns:token")
	require.NoError(t, err)
	assert.Equal(t, "jwt-value", val)
	assert.InDelta(t, time.Minute.Seconds(), mr.TTL("test:apns:token").Seconds(), 1)
}

func TestRedisClient_SetNX(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()

	ok, err := client.SetNX(ctx, "claim:c-1", "run-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "claim:c-1", "run-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = client.SetNX(ctx, "claim:c-1", "run-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, client.Del(ctx, "claim:c-1"))
	assert.False(t, mr.Exists("test:claim:c-1"))
}
