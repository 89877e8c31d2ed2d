package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/agentplane/agentplane/internal/common/logger"
)

const acquirePollInterval = 200 * time.Millisecond

// releaseScript deletes the lock only when the stored token matches,
// so an expired lease re-acquired by another replica is never clobbered.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on Redis SET NX PX leases.
type RedisLocker struct {
	client *goredis.Client
	logger *logger.Logger
	prefix string
}

// NewRedisLocker creates a Redis-backed locker. Keys are namespaced under
// "lock:".
func NewRedisLocker(client *goredis.Client, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		logger: log,
		prefix: "lock:",
	}
}

type redisLock struct {
	locker *RedisLocker
	key    string
	token  string
}

func (l *redisLock) Key() string { return l.key }

func (l *redisLock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.locker.client, []string{l.locker.prefix + l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// Acquire takes the lock with the given lease, polling until
// acquireTimeout elapses. ErrNotAcquired means another owner holds it.
func (r *RedisLocker) Acquire(ctx context.Context, key string, lease, acquireTimeout time.Duration) (Lock, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(acquireTimeout)

	for {
		ok, err := r.client.SetNX(ctx, r.prefix+key, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return &redisLock{locker: r, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}
