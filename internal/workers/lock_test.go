package workers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestLeaderLockSingleHolder(t *testing.T) {
	client := newLockClient(t)
	ctx := context.Background()

	a := NewLeaderLock(client, "test:leader", time.Minute)
	b := NewLeaderLock(client, "test:leader", time.Minute)

	held, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	// The holder keeps the lock across cycles.
	held, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestLeaderLockReleaseHandsOffImmediately(t *testing.T) {
	client := newLockClient(t)
	ctx := context.Background()

	a := NewLeaderLock(client, "test:leader", time.Minute)
	b := NewLeaderLock(client, "test:leader", time.Minute)

	held, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	// A clean shutdown releases the key, so the next instance takes over
	// without waiting out the TTL.
	require.NoError(t, a.Release(ctx))

	held, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestLeaderLockReleaseByNonHolderIsNoop(t *testing.T) {
	client := newLockClient(t)
	ctx := context.Background()

	a := NewLeaderLock(client, "test:leader", time.Minute)
	b := NewLeaderLock(client, "test:leader", time.Minute)

	held, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, b.Release(ctx))

	held, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}
