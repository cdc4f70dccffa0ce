package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWindowTTL outlives the one-second window so late INCRs still expire.
const redisWindowTTL = 2 * time.Second

// RedisCounter shares windows between gateway replicas through Redis.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounter returns a counter writing keys under prefix.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: strings.Trim(strings.TrimSpace(prefix), ":")}
}

// Hit implements Counter. INCR and EXPIRE run in one MULTI block.
func (r *RedisCounter) Hit(ctx context.Context, key string, limit int, now time.Time) (Verdict, error) {
	if limit <= 0 || key == "" || r == nil || r.client == nil {
		return Verdict{Allowed: true}, nil
	}
	sec, resetAt := window(now)
	windowKey := fmt.Sprintf("%s:%d", key, sec)
	if r.prefix != "" {
		windowKey = r.prefix + ":" + windowKey
	}

	var incr *redis.IntCmd
	if _, errExec := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, windowKey)
		pipe.Expire(ctx, windowKey, redisWindowTTL)
		return nil
	}); errExec != nil {
		return Verdict{}, fmt.Errorf("ratelimit: redis hit: %w", errExec)
	}
	return verdictFor(incr.Val(), limit, resetAt), nil
}

// Close releases the underlying client.
func (r *RedisCounter) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
