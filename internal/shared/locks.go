package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReconcileLockKey is the redis key guarding the reconciliation critical
// section. One run at a time, cluster wide.
func ReconcileLockKey() string {
	return "ledger:reconcile:lock"
}

// RedisLock is a best-effort distributed lock on a single key. It keeps
// background jobs from overlapping; correctness of ledger writes rests on
// row locking, not on this.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLock constructs a lock for the given key.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// TryAcquire attempts to take the lock without blocking.
func (l *RedisLock) TryAcquire(ctx context.Context) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("redis lock not initialised")
	}
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Release frees the lock when still held by this owner.
func (l *RedisLock) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	return l.client.Eval(ctx, script, []string{l.key}, l.token).Err()
}
