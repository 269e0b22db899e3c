package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisClient is the subset of the go-redis client used for leases.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis implements Locker with SET NX PX leases shared across API replicas.
type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis constructs a Redis backed Locker. Leases expire after ttl if never released.
func NewRedis(client RedisClient, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: "puyu:lock:", ttl: ttl, logger: logger}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()

	err := backoff.Retry(func() error {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrBusy
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBusy, key, ctx.Err())
		}
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := r.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				r.logger.Error("redis lock release failed", "key", key, "error", err)
			}
		})
	}, nil
}
