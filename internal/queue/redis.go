package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	slotKeyPrefix = "queue:slot:"
	waitKeyPrefix = "queue:wait:"
)

// pushWaitScript appends to the wait list only while it is under
// capacity, so concurrent submits cannot overshoot the cap. A negative
// result encodes "full" along with the observed length.
var pushWaitScript = goredis.NewScript(`
local len = redis.call("llen", KEYS[1])
if len >= tonumber(ARGV[2]) then
	return -1 - len
end
return redis.call("rpush", KEYS[1], ARGV[1])
`)

// RedisStore implements Store on Redis. The running slot is a string key
// written with SET NX PX, so the CAS and crash-recovery TTL come from
// Redis itself; the wait list is a Redis list pushed at the tail and
// popped at the head.
type RedisStore struct {
	client *goredis.Client
}

// NewRedisStore creates a Redis-backed queue store.
func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func slotKey(agentName string) string { return slotKeyPrefix + agentName }
func waitKey(agentName string) string { return waitKeyPrefix + agentName }

func (s *RedisStore) AcquireSlot(ctx context.Context, agentName string, entry *Entry, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal queue entry: %w", err)
	}
	ok, err := s.client.SetNX(ctx, slotKey(agentName), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire slot for %s: %w", agentName, err)
	}
	return ok, nil
}

func (s *RedisStore) GetSlot(ctx context.Context, agentName string) (*Entry, error) {
	data, err := s.client.Get(ctx, slotKey(agentName)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get slot for %s: %w", agentName, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode slot entry for %s: %w", agentName, err)
	}
	return &entry, nil
}

func (s *RedisStore) ReleaseSlot(ctx context.Context, agentName string) (bool, error) {
	n, err := s.client.Del(ctx, slotKey(agentName)).Result()
	if err != nil {
		return false, fmt.Errorf("release slot for %s: %w", agentName, err)
	}
	return n > 0, nil
}

func (s *RedisStore) PushWait(ctx context.Context, agentName string, entry *Entry, maxSize int) (int, bool, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, false, fmt.Errorf("marshal queue entry: %w", err)
	}
	n, err := pushWaitScript.Run(ctx, s.client, []string{waitKey(agentName)}, data, maxSize).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("push wait for %s: %w", agentName, err)
	}
	if n < 0 {
		return int(-n - 1), false, nil
	}
	return int(n), true, nil
}

func (s *RedisStore) PushWaitFront(ctx context.Context, agentName string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	if err := s.client.LPush(ctx, waitKey(agentName), data).Err(); err != nil {
		return fmt.Errorf("push wait front for %s: %w", agentName, err)
	}
	return nil
}

func (s *RedisStore) PopWait(ctx context.Context, agentName string) (*Entry, error) {
	data, err := s.client.LPop(ctx, waitKey(agentName)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop wait for %s: %w", agentName, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode wait entry for %s: %w", agentName, err)
	}
	return &entry, nil
}

func (s *RedisStore) ListWait(ctx context.Context, agentName string) ([]*Entry, error) {
	items, err := s.client.LRange(ctx, waitKey(agentName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list wait for %s: %w", agentName, err)
	}
	entries := make([]*Entry, 0, len(items))
	for _, item := range items {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode wait entry for %s: %w", agentName, err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (s *RedisStore) ClearWait(ctx context.Context, agentName string) (int, error) {
	n, err := s.client.LLen(ctx, waitKey(agentName)).Result()
	if err != nil {
		return 0, fmt.Errorf("clear wait for %s: %w", agentName, err)
	}
	if err := s.client.Del(ctx, waitKey(agentName)).Err(); err != nil {
		return 0, fmt.Errorf("clear wait for %s: %w", agentName, err)
	}
	return int(n), nil
}
