// Package lock serialises stock mutations for one medicine across replicas.
//
// Row locks in PostgreSQL already keep every unit of work correct; the Redis
// lock only stops replicas from queueing on the same rows and timing out.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/medflow/medflow-stock/pkg/config"
	apperrors "github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Release frees a held lock. It is safe to call once.
type Release func(ctx context.Context)

// MedicineLocker obtains the per-medicine lock
type MedicineLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
	logger  *logger.Logger
}

// NewRedisClient opens the Redis connection described by cfg
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

// New creates a locker on top of an existing Redis client
func New(rdb redislock.RedisClient, cfg *config.RedisConfig, log *logger.Logger) *MedicineLocker {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	backoff := cfg.LockBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	return &MedicineLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		retries: cfg.LockRetries,
		backoff: backoff,
		logger:  log.WithComponent("medicine-lock"),
	}
}

// Key returns the Redis key guarding a medicine
func Key(medicineID int64) string {
	return fmt.Sprintf("stock:medicine:%d", medicineID)
}

// Lock obtains the lock for medicineID, retrying with linear backoff.
// A lock held elsewhere for the whole retry window is a ConcurrencyConflict.
// When Redis itself fails the caller proceeds unlocked and relies on row locks.
func (l *MedicineLocker) Lock(ctx context.Context, medicineID int64) (Release, error) {
	key := Key(medicineID)

	var strategy redislock.RetryStrategy = redislock.NoRetry()
	if l.retries > 0 {
		strategy = redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries)
	}

	held, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, apperrors.ConcurrencyConflict(
			fmt.Sprintf("medicine %d is being updated by another request", medicineID), err)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.ConcurrencyConflict("gave up waiting for medicine lock", ctxErr)
		}
		l.logger.Warn().Err(err).Str("key", key).Msg("redis lock unavailable, continuing with row locks only")
		return func(context.Context) {}, nil
	}

	return func(ctx context.Context) {
		if err := held.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to release medicine lock")
		}
	}, nil
}
