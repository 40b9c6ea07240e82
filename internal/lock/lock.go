// Package lock implements the Lock Service (C6): a Redis-backed
// distributed per-epoch mutex, generalizing the teacher's
// internal/infra/redis range-lock (AcquireLock/ReleaseLock/RefreshLock)
// from per-range keys to one key per epoch, per spec §4.6.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/errs"
	"github.com/vietddude/roundkeeper/internal/metrics"
)

// Locker is a distributed per-epoch mutex. Lock value is an opaque
// token; this system does not require holder-identity verification
// because EpochCompletion is the authoritative idempotence marker.
type Locker struct {
	rdb       *redis.Client
	namespace string
}

// New creates a Locker.
func New(rdb *redis.Client, namespace string) *Locker {
	return &Locker{rdb: rdb, namespace: namespace}
}

// Key derives the Redis key for one epoch's lock: lock:{namespace}:epoch:{epoch}.
func Key(namespace string, epoch domain.Epoch) string {
	return fmt.Sprintf("lock:%s:epoch:%d", namespace, epoch)
}

func (l *Locker) key(epoch domain.Epoch) string {
	return Key(l.namespace, epoch)
}

// Acquire performs an atomic set-if-absent-with-expiry. Returns true
// iff the caller now owns the lock; fails closed (returns false, non-nil
// error) if Redis is unreachable, since an unverifiable lock must never
// be treated as acquired.
func (l *Locker) Acquire(ctx context.Context, epoch domain.Epoch, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key(epoch), token, ttl).Result()
	if err != nil {
		metrics.LockAcquisitions.WithLabelValues("unavailable").Inc()
		return false, fmt.Errorf("%w: %v", errs.ErrLockUnavailable, err)
	}
	if ok {
		metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	} else {
		metrics.LockAcquisitions.WithLabelValues("denied").Inc()
	}
	return ok, nil
}

// Release unconditionally removes the lock key.
func (l *Locker) Release(ctx context.Context, epoch domain.Epoch) error {
	return l.rdb.Del(ctx, l.key(epoch)).Err()
}

// Extend resets the lock's expiry, for pipeline runs exceeding TTL/2.
func (l *Locker) Extend(ctx context.Context, epoch domain.Epoch, ttl time.Duration) error {
	return l.rdb.Expire(ctx, l.key(epoch), ttl).Err()
}

// Ping reports whether the backing Redis instance is reachable,
// satisfying health.LockPinger.
func (l *Locker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}
