package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusmart/marketplace/internal/domain/checkout"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestAppliedCoupons(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewAppliedCoupons(client, time.Hour)
	ctx := context.Background()

	code, err := store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, code)

	require.NoError(t, store.Set(ctx, "buyer-1", "S1TEN"))
	code, err = store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, "S1TEN", code)
	assert.Equal(t, time.Hour, mr.TTL(appliedKey("buyer-1")))

	require.NoError(t, store.Set(ctx, "buyer-1", "WELCOME"))
	code, err = store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, "WELCOME", code)

	require.NoError(t, store.Clear(ctx, "buyer-1"))
	code, err = store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestAppliedCoupons_Expiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewAppliedCoupons(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "buyer-1", "S1TEN"))
	mr.FastForward(2 * time.Minute)

	code, err := store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestAppliedCoupons_RedisDown(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewAppliedCoupons(client, 0)
	require.NoError(t, client.Close())

	_, err := store.Get(context.Background(), "buyer-1")
	require.Error(t, err)
}

func TestLocker(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "checkout:buyer-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockKey("checkout:buyer-1")))

	_, err = locker.Lock(ctx, "checkout:buyer-1", 30*time.Second)
	require.ErrorIs(t, err, checkout.ErrLocked)

	other, err := locker.Lock(ctx, "checkout:buyer-2", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists(lockKey("checkout:buyer-1")))

	again, err := locker.Lock(ctx, "checkout:buyer-1", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocker_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	stale, err := locker.Lock(ctx, "checkout:buyer-1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Lock(ctx, "checkout:buyer-1", 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists(lockKey("checkout:buyer-1")), "new holder keeps the lock")

	require.NoError(t, fresh(ctx))
	assert.False(t, mr.Exists(lockKey("checkout:buyer-1")))
}
