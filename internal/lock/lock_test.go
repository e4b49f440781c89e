package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLock(client, "test:"), mr
}

func TestRedisLockMutualExclusion(t *testing.T) {
	l, _ := newRedisLock(t)
	ctx := context.Background()

	lease, ok, err := l.TryAcquire(ctx, "key-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "key-a", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// A different key is unaffected.
	_, ok, err = l.TryAcquire(ctx, "key-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lease.Release(ctx))
	_, ok, err = l.TryAcquire(ctx, "key-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockExpiry(t *testing.T) {
	l, mr := newRedisLock(t)
	ctx := context.Background()

	_, ok, err := l.TryAcquire(ctx, "key", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = l.TryAcquire(ctx, "key", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockStaleReleaseKeepsActiveHolder(t *testing.T) {
	l, mr := newRedisLock(t)
	ctx := context.Background()

	stale, ok, err := l.TryAcquire(ctx, "key", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The first holder's TTL expired and the same lock instance handed the
	// key to a second holder. The first holder's deferred release must not
	// free the second holder's lock.
	mr.FastForward(2 * time.Second)
	_, ok, err = l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Release(ctx))

	_, ok, err = l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "stale release freed the active holder's lock")
}

func TestRedisLockStaleReleaseAcrossInstances(t *testing.T) {
	l, mr := newRedisLock(t)
	ctx := context.Background()

	stale, ok, err := l.TryAcquire(ctx, "key", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	other := NewRedisLock(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	_, ok, err = other.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Release(ctx))

	_, ok, err = l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisLockReleaseIdempotent(t *testing.T) {
	l, _ := newRedisLock(t)
	ctx := context.Background()

	lease, ok, err := l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))

	// A double release after reacquisition does not free the new holder.
	next, ok, err := l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lease.Release(ctx))

	_, ok, err = l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, next.Release(ctx))
}

func TestLocalLock(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	lease, ok, err := l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, lease.Release(ctx))
	_, ok, err = l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocalLockExpiry(t *testing.T) {
	l := NewLocalLock()
	now := time.Now()
	l.now = func() time.Time { return now }

	_, ok, err := l.TryAcquire(context.Background(), "key", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = l.TryAcquire(context.Background(), "key", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocalLockStaleReleaseKeepsActiveHolder(t *testing.T) {
	l := NewLocalLock()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, ok, err := l.TryAcquire(ctx, "key", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Release(ctx))

	_, ok, err = l.TryAcquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "stale release freed the active holder's lock")
}
