package checkcapsules

import (
	"context"
	"errors"
	"testing"
	"time"

	"capsule-notifier/internal/common/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClaimer_ClaimIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	claimer := NewRedisClaimer(database.NewRedisFromClient(rdb, "capsule-notifier:"), 10*time.Minute)
	ctx := context.Background()

	ok, err := claimer.Claim(ctx, "c-1", "run-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = claimer.Claim(ctx, "c-1", "run-b")
	require.NoError(t, err)
	assert.False(t, ok)

	owner, err := mr.Get("capsule-notifier:claim:capsule:c-1")
	require.NoError(t, err)
	assert.Equal(t, "run-a", owner)
	assert.Equal(t, 10*time.Minute, mr.TTL("capsule-notifier:claim:capsule:c-1"))

	require.NoError(t, claimer.Release(ctx, "c-1"))
	ok, err = claimer.Claim(ctx, "c-1", "run-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisClaimer_ClaimExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	claimer := NewRedisClaimer(database.NewRedisFromClient(rdb, ""), time.Minute)
	ctx := context.Background()

	ok, err := claimer.Claim(ctx, "c-1", "run-a")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = claimer.Claim(ctx, "c-1", "run-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisClaimer_CommandError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	claimer := NewRedisClaimer(database.NewRedisFromClient(rdb, "p:"), time.Minute)

	mock.ExpectSetNX("p:claim:capsule:c-1", "run-a", time.Minute).SetErr(errors.New("READONLY"))

	_, err := claimer.Claim(context.Background(), "c-1", "run-a")
	assert.EqualError(t, err, "READONLY")
	assert.NoError(t, mock.ExpectationsWereMet())
}
