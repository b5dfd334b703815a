package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a Locker shared by every process pointing at the same Redis.
// A held key expires after ttl if its owner dies without unlocking.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	prefix  string
	logger  *zap.Logger
}

func NewRedis(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: 20 * time.Millisecond,
		prefix:  "otaledger:lock:",
		logger:  logger,
	}
}

// Lock retries until ctx is done. Without a deadline it gives up after ttl.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	lock, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.backoff),
	})
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("failed to release redis lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
