package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker keeps a job from running on two instances at once.
type Locker interface {
	// Acquire returns ok=false when another holder has the lock. release is
	// only set when ok is true.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only while it still holds our token, so a
// holder whose TTL ran out cannot drop a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker returns a SETNX based locker. With a nil client every
// Acquire succeeds, which is right for a single instance.
func NewRedisLocker(rdb *redis.Client) Locker {
	return &redisLocker{rdb: rdb}
}

func LockKey(name string) string {
	return fmt.Sprintf("lock:job:%s", name)
}

func (l *redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if l.rdb == nil {
		return func() {}, true, nil
	}

	key := LockKey(name)
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to take job lock in redis: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The caller's ctx may already be done when the job finishes.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
