package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl), mr
}

func TestRedis_AcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, time.Minute)

	lease, err := locker.Acquire(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:tx:tx-1"))
	assert.Equal(t, time.Minute, mr.TTL("lock:tx:tx-1"))

	_, err = locker.Acquire(ctx, "tx-1")
	assert.ErrorIs(t, err, ErrLocked)

	other, err := locker.Acquire(ctx, "tx-2")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("lock:tx:tx-1"))
	assert.NoError(t, lease.Release(ctx), "second release is a no-op")

	_, err = locker.Acquire(ctx, "tx-1")
	assert.NoError(t, err)
}

func TestRedis_ExpiredLeaseCannotReleaseNewOwner(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, time.Second)

	stale, err := locker.Acquire(ctx, "tx-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	current, err := locker.Acquire(ctx, "tx-1")
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Extend(ctx), ErrLost)
	assert.ErrorIs(t, stale.Release(ctx), ErrLost)
	assert.True(t, mr.Exists("lock:tx:tx-1"), "new owner's lock survives")

	require.NoError(t, current.Release(ctx))
}

func TestRedis_Extend(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, 10*time.Second)

	lease, err := locker.Acquire(ctx, "tx-1")
	require.NoError(t, err)

	mr.FastForward(8 * time.Second)
	require.NoError(t, lease.Extend(ctx))
	assert.Equal(t, 10*time.Second, mr.TTL("lock:tx:tx-1"))
}

func TestRedis_AcquireBackendError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX("lock:tx:tx-1", `.+`, time.Minute).SetErr(errors.New("connection refused"))

	_, err := NewRedis(client, time.Minute).Acquire(context.Background(), "tx-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	lease, err := m.Acquire(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, m.Held("tx-1"))

	_, err = m.Acquire(ctx, "tx-1")
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.Extend(ctx))
	require.NoError(t, lease.Release(ctx))
	assert.False(t, m.Held("tx-1"))
	assert.ErrorIs(t, lease.Extend(ctx), ErrLost)
}
