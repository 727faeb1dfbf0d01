package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultTTL      = 30 * time.Second
	defaultWait     = 10 * time.Second
	retryInterval   = 50 * time.Millisecond
	redisKeyPrefix  = "serveroute:lock:"
	releaseDeadline = 2 * time.Second
)

// Redis is a Locker backed by bsm/redislock. Locks expire after TTL so a
// crashed holder cannot wedge a key.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedis wraps an existing go-redis client.
func NewRedis(rdb redis.UniversalClient, ttl, wait time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if wait <= 0 {
		wait = defaultWait
	}
	return &Redis{client: redislock.New(rdb), ttl: ttl, wait: wait}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "lock: ping redis %s", addr)
	}
	return rdb, nil
}

// Lock obtains key, retrying until the wait budget or ctx runs out.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	l, err := r.client.Obtain(waitCtx, redisKeyPrefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(retryInterval),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, eris.Wrapf(ErrNotObtained, "lock: %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "lock: obtain %s", key)
	}

	return func() {
		relCtx, cancel := context.WithTimeout(context.Background(), releaseDeadline)
		defer cancel()
		if err := l.Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			zap.L().Warn("lock: release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
