package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "rollup:lock:1:2024-01-01", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "rollup:lock:1:2024-01-01", time.Minute)
	require.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, lease.Release(ctx))
	again, err := locker.Acquire(ctx, "rollup:lock:1:2024-01-01", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLockerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	next, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.ErrorIs(t, lease.Refresh(ctx, time.Second), ErrLockLost)
	require.NoError(t, next.Release(ctx))
	require.NoError(t, lease.Release(ctx))
}

func TestRedisLockerRefreshExtendsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "k", 2*time.Second)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		mr.FastForward(time.Second)
		require.NoError(t, lease.Refresh(ctx, 2*time.Second))
	}
	_, err = locker.Acquire(ctx, "k", time.Second)
	require.ErrorIs(t, err, ErrRunInProgress)
	require.NoError(t, lease.Release(ctx))
}

func TestLocalLockerReleaseIsIdempotent(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()
	lease, err := locker.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	_, err = locker.Acquire(ctx, "k", 0)
	require.ErrorIs(t, err, ErrRunInProgress)
	require.NoError(t, lease.Refresh(ctx, 0))
	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
	require.ErrorIs(t, lease.Refresh(ctx, 0), ErrLockLost)

	next, err := locker.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
	require.NoError(t, next.Refresh(ctx, 0))
	require.NoError(t, next.Release(ctx))
}
