package redis_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := redis.NewClientFrom(rdb, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestGetSetDel(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	_, found, err := client.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.Set(ctx, "k", "v", 0))
	value, found, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)

	require.NoError(t, client.Del(ctx, "k"))
	_, found, err = client.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, client.Ping(ctx))
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	cfg := redis.Config{Host: mr.Host(), Port: atoi(t, mr.Port())}
	client, err := redis.NewClient(context.Background(), cfg, logger)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	down, err := miniredis.Run()
	require.NoError(t, err)
	downCfg := redis.Config{Host: down.Host(), Port: atoi(t, down.Port())}
	down.Close()

	_, err = redis.NewClient(context.Background(), downCfg, logger)
	assert.Error(t, err)
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := redis.NewLocker(client, "")
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "outbox:flush", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("fern:lock:outbox:flush"))

	_, err = locker.Acquire(ctx, "outbox:flush", time.Minute)
	assert.ErrorIs(t, err, redis.ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("fern:lock:outbox:flush"))
	assert.ErrorIs(t, lock.Release(ctx), redis.ErrLockNotHeld)
}

func TestLockExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	second, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	assert.ErrorIs(t, first.Release(ctx), redis.ErrLockNotHeld, "expired holder cannot release the new lock")
	require.NoError(t, second.Release(ctx))
}

func TestWithLock(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := redis.NewLocker(client, "")
	ctx := context.Background()

	boom := errors.New("boom")
	err := locker.WithLock(ctx, "job", time.Minute, func(ctx context.Context) error {
		assert.True(t, mr.Exists("fern:lock:job"))

		inner := locker.WithLock(ctx, "job", time.Minute, func(context.Context) error {
			t.Fatal("ran while lock was held")
			return nil
		})
		assert.ErrorIs(t, inner, redis.ErrLockNotAcquired)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("fern:lock:job"), "released after fn returns")
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}
