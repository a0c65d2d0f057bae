package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript sets the expiry only when INCR created the key, so a
// window's key never outlives the window.
var incrementScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCounter is a Counter shared by every instance pointed at the same
// Redis server.
type RedisCounter struct {
	client redis.Scripter
}

func NewRedisCounter(client redis.Scripter) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	count, err := incrementScript.Run(ctx, r.client, []string{key}, secs).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment %s: %w", key, err)
	}
	return count, nil
}
