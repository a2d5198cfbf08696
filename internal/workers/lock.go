package workers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaderLock elects a single dispatching instance via redis. Each
// instance tries a SETNX with a TTL; the holder refreshes the TTL on
// every cycle and everyone else skips the cycle.
type LeaderLock struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	instanceID string
}

func NewLeaderLock(client *redis.Client, key string, ttl time.Duration) *LeaderLock {
	if key == "" {
		key = "bison:dispatch:leader"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &LeaderLock{
		client:     client,
		key:        key,
		ttl:        ttl,
		instanceID: uuid.New().String(),
	}
}

// TryAcquire reports whether this instance holds the lock. Holding
// instances get their TTL extended.
func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	holder, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if holder != l.instanceID {
		return false, nil
	}
	// Still ours, refresh.
	if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Release gives the lock up if this instance holds it.
func (l *LeaderLock) Release(ctx context.Context) error {
	holder, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != l.instanceID {
		return nil
	}
	return l.client.Del(ctx, l.key).Err()
}
