package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLocker(rdb, 5*time.Second)
}

func TestWithLockRunsCallback(t *testing.T) {
	ctx := context.Background()
	locker := newTestLocker(t)

	ran := false
	err := locker.WithLock(ctx, ReconciliationLockKey(7), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWithLockRejectsConcurrentHolder(t *testing.T) {
	ctx := context.Background()
	locker := newTestLocker(t)

	err := locker.WithLock(ctx, ReconciliationLockKey(7), func(ctx context.Context) error {
		return locker.WithLock(ctx, ReconciliationLockKey(7), func(ctx context.Context) error {
			t.Fatal("nested acquisition must not run")
			return nil
		})
	})
	require.ErrorIs(t, err, ErrLockHeld)
}

func TestWithLockReleasesAfterUse(t *testing.T) {
	ctx := context.Background()
	locker := newTestLocker(t)

	for i := 0; i < 2; i++ {
		err := locker.WithLock(ctx, ReconciliationLockKey(9), func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err)
	}
}
