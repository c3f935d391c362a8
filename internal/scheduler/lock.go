package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

const lockPrefix = "ethernal:job:lock:"

var errLockNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// DistributedLock keeps a job single-instance across replicas.
type DistributedLock struct {
	client      redis.UniversalClient
	key         string
	value       string
	ttl         time.Duration
	useWatchdog bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDistributedLock(client redis.UniversalClient, jobName string, ttl time.Duration, useWatchdog bool) *DistributedLock {
	return &DistributedLock{
		client:      client,
		key:         lockPrefix + jobName,
		value:       uuid.NewString(),
		ttl:         ttl,
		useWatchdog: useWatchdog,
		stopCh:      make(chan struct{}),
	}
}

func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if ok && l.useWatchdog {
		l.startWatchdog(ctx)
	}
	return ok, nil
}

// Unlock releases the lock only if this holder still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	if l.useWatchdog {
		close(l.stopCh)
		l.wg.Wait()
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

func (l *DistributedLock) startWatchdog(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				if err := l.renew(ctx); err != nil {
					logger.Warn("failed to renew lock", zap.String("key", l.key), zap.Error(err))
				}
			}
		}
	}()
}

func (l *DistributedLock) renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return errLockNotHeld
	}
	return nil
}

// IsLocked reports whether any instance holds the job's lock.
func IsLocked(ctx context.Context, client redis.UniversalClient, jobName string) (bool, error) {
	n, err := client.Exists(ctx, lockPrefix+jobName).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
