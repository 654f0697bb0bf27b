// Package redislocker provides a Redis-backed conditional lock, for fleets
// of proxies sharing one storage zone.
//
// A lock is acquired with a single SET NX PX carrying a random fencing
// value and released with an atomic compare-and-delete, so only the holder
// that acquired a lock can release it. The TTL bounds how long a crashed
// holder can block other writers.
package redislocker

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/handler"
)

const keyPrefix = "bunny-s3-lock:"

// DefaultTTL is applied when no WithTTL option is given.
const DefaultTTL = 30 * time.Second

type LockerOption func(l *RedisLocker)

func WithLogger(logger *slog.Logger) LockerOption {
	return func(l *RedisLocker) {
		l.logger = logger
	}
}

func WithTTL(ttl time.Duration) LockerOption {
	return func(l *RedisLocker) {
		l.ttl = ttl
	}
}

// RedisLocker implements handler.ConditionalLocker on a Redis instance or
// cluster.
type RedisLocker struct {
	rs     *redsync.Redsync
	ttl    time.Duration
	logger *slog.Logger
}

// NewFromClient builds a locker on an existing Redis client.
func NewFromClient(client redis.UniversalClient, lockerOptions ...LockerOption) *RedisLocker {
	locker := &RedisLocker{
		rs:  redsync.New(goredis.NewPool(client)),
		ttl: DefaultTTL,
	}
	for _, option := range lockerOptions {
		option(locker)
	}
	if locker.logger == nil {
		locker.logger = slog.Default()
	}
	return locker
}

// New connects to the Redis instance at uri and verifies the connection
// with a ping before returning the locker.
func New(uri string, lockerOptions ...LockerOption) (*RedisLocker, error) {
	connection, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(connection)
	if res := client.Ping(context.Background()); res.Err() != nil {
		return nil, res.Err()
	}
	return NewFromClient(client, lockerOptions...), nil
}

func (locker *RedisLocker) TryLock(ctx context.Context, key string) (handler.Lock, bool) {
	mutex := locker.rs.NewMutex(keyPrefix+key,
		redsync.WithExpiry(locker.ttl),
		redsync.WithTries(1),
		redsync.WithGenValueFunc(func() (string, error) {
			return uuid.NewString(), nil
		}),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		// Contention and connection trouble look the same to the caller;
		// either way the conditional write must not proceed.
		locker.logger.Debug("ConditionalLockBusy", "key", key, "error", err)
		return nil, false
	}
	return &redisLock{mutex: mutex, key: key, logger: locker.logger}, true
}

type redisLock struct {
	mutex  *redsync.Mutex
	key    string
	logger *slog.Logger
}

func (lock *redisLock) Unlock() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if ok, err := lock.mutex.UnlockContext(ctx); !ok || err != nil {
		// The TTL will reclaim the key; nothing more to do here.
		lock.logger.Warn("ConditionalLockReleaseFailed", "key", lock.key, "error", err)
	}
}
