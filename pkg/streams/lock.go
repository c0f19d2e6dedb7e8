package streams

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Pop lock parameters. The TTL bounds how long a crashed holder can stall
// other poppers; acquisition gives up after acquireTimeout.
const (
	lockTTL         = 10 * time.Second
	acquireTimeout  = 5 * time.Second
	acquireInterval = 100 * time.Millisecond
)

// releaseScript deletes the lock only when the stored token still matches,
// so an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type popLock struct {
	rdb   *redis.Client
	key   string
	token string
}

func newPopLock(rdb *redis.Client, stream string) *popLock {
	return &popLock{
		rdb:   rdb,
		key:   "lock:" + stream + ":pop",
		token: uuid.NewString(),
	}
}

// acquire tries SET NX with a TTL until it wins or the acquisition window
// closes.
func (l *popLock) acquire(ctx context.Context) bool {
	deadline := time.Now().Add(acquireTimeout)
	for {
		ok, err := l.rdb.SetNX(ctx, l.key, l.token, lockTTL).Result()
		if err == nil && ok {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(acquireInterval):
		}
	}
}

// release is compare-and-delete; failures are ignored since the TTL will
// reclaim the lock anyway.
func (l *popLock) release(ctx context.Context) {
	_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
