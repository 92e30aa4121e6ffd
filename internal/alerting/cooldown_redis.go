package alerting

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// keys live long enough to carry a suppressed count into the next window
const redisRetentionWindows = 12

var touchScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last')
if (not last) or (tonumber(ARGV[1]) - tonumber(last) >= tonumber(ARGV[2])) then
  redis.call('HSET', KEYS[1], 'last', ARGV[1])
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  return 1
end
redis.call('HINCRBY', KEYS[1], 'suppressed', 1)
return 0
`)

var drainScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local n = tonumber(redis.call('HGET', KEYS[1], 'suppressed') or '0')
redis.call('HSET', KEYS[1], 'suppressed', 0)
return n
`)

// only clears the window if no other instance has sent since
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'last') == ARGV[1] then
  redis.call('HDEL', KEYS[1], 'last')
end
if tonumber(ARGV[2]) > 0 then
  redis.call('HINCRBY', KEYS[1], 'suppressed', ARGV[2])
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// RedisCooldownStore shares cooldown state between instances.
type RedisCooldownStore struct {
	client *redis.Client
	prefix string
	// retention for keys recreated by Release, which has no window to go by
	retention time.Duration
}

func NewRedisCooldownStore(client *redis.Client, prefix string) *RedisCooldownStore {
	if prefix == "" {
		prefix = "alert:cooldown:"
	}
	return &RedisCooldownStore{
		client:    client,
		prefix:    prefix,
		retention: DefaultCooldownWindow * redisRetentionWindows,
	}
}

func (r *RedisCooldownStore) Touch(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	ttl := window * redisRetentionWindows
	res, err := touchScript.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(), window.Milliseconds(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cooldown touch %s: %w", key, err)
	}
	return res == 1, nil
}

func (r *RedisCooldownStore) Drain(ctx context.Context, key string) (int, error) {
	n, err := drainScript.Run(ctx, r.client, []string{r.prefix + key}).Int()
	if err != nil {
		return 0, fmt.Errorf("cooldown drain %s: %w", key, err)
	}
	return n, nil
}

func (r *RedisCooldownStore) Release(ctx context.Context, key string, sentAt time.Time, suppressed int) error {
	err := releaseScript.Run(ctx, r.client, []string{r.prefix + key},
		strconv.FormatInt(sentAt.UnixMilli(), 10), suppressed, r.retention.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("cooldown release %s: %w", key, err)
	}
	return nil
}
