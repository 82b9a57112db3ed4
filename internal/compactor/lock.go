package compactor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes compaction of one conversation across service
// instances. TryLock returns ok=false without error when someone else
// holds the lock.
type Locker interface {
	TryLock(ctx context.Context, conversationID string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release, so an expired lock is never released out from under a new
// holder.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

func (l *RedisLocker) TryLock(ctx context.Context, conversationID string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	key := "converse:compact:" + conversationID
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire compaction lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Best effort; TTL reclaims the lock if the release is lost.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
