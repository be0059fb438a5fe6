package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another worker holds the critical section.
var ErrLockHeld = errors.New("lock already held")

// Locker serialises critical sections across instances via redis.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewLocker constructs a Locker with the given lease TTL.
func NewLocker(rdb redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: redislock.New(rdb), ttl: ttl}
}

// ReconciliationLockKey builds redis keys for per-store reconciliation commits.
func ReconciliationLockKey(storeID int64) string {
	return fmt.Sprintf("inventory:store:%d:reconcile", storeID)
}

// WithLock runs fn while holding the named lock, releasing it afterwards.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrLockHeld
		}
		return err
	}
	defer func() {
		_ = lock.Release(ctx)
	}()
	return fn(ctx)
}
