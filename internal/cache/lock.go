package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLockBusy is returned when a lock stayed held for the whole wait.
var ErrLockBusy = errors.New("lock is busy")

var releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// LockKey is the Redis key guarding pairing for one game's queue.
func LockKey(scope string, id uint) string {
	return fmt.Sprintf("lock:%s:%d", scope, id)
}

// Lock takes a short-lived exclusive lock on key, retrying until wait
// elapses. The returned release func only deletes the key while this
// caller still owns it. Without Redis the lock is a no-op.
func Lock(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	if client == nil {
		return func() {}, nil
	}

	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}

	return func() {
		// Release even if the caller's context was cancelled.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		client.Eval(relCtx, releaseScript, []string{key}, token)
	}, nil
}
