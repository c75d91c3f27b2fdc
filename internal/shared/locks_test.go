package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestMutex(t *testing.T) (*ResourceMutex, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewResourceMutex(client, time.Minute), srv
}

func TestResourceMutexSerialisesHolders(t *testing.T) {
	mutex, _ := newTestMutex(t)
	ctx := context.Background()
	key := AdjustmentLockKey(1, 42)

	release, err := mutex.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = mutex.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrResourceBusy)

	release()
	release2, err := mutex.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestResourceMutexExpiresWithTTL(t *testing.T) {
	mutex, srv := newTestMutex(t)
	ctx := context.Background()
	key := StockLockKey(1, 7)

	_, err := mutex.Acquire(ctx, key)
	require.NoError(t, err)

	// A crashed holder never releases; the TTL frees the lock.
	srv.FastForward(2 * time.Minute)

	release, err := mutex.Acquire(ctx, key)
	require.NoError(t, err)
	release()
}

func TestResourceMutexNilDegradesToNoop(t *testing.T) {
	var mutex *ResourceMutex
	release, err := mutex.Acquire(context.Background(), CompositeLockKey(1, 3))
	require.NoError(t, err)
	release()
}

func TestLockKeysAreTenantScoped(t *testing.T) {
	require.Equal(t, "stock:1:2:lock", StockLockKey(1, 2))
	require.Equal(t, "composite:3:4:lock", CompositeLockKey(3, 4))
	require.Equal(t, "adjustment:5:6:lock", AdjustmentLockKey(5, 6))
	require.Equal(t, "period:7:2026-02:lock", PeriodLockKey(7, 2026, 2))
}
