package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppliedCoupons(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryAppliedCoupons(time.Hour)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	code, err := store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, code)

	require.NoError(t, store.Set(ctx, "buyer-1", "S1TEN"))
	code, err = store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, "S1TEN", code)

	other, err := store.Get(ctx, "buyer-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	now = now.Add(time.Hour)
	code, err = store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, code, "expired")

	require.NoError(t, store.Set(ctx, "buyer-1", "WELCOME"))
	require.NoError(t, store.Clear(ctx, "buyer-1"))
	code, err = store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, code)
}
