// Package memorylocker provides an in-memory conditional lock.
//
// Locks exist only within one process, so this implementation is correct
// only while a single proxy instance writes to the storage zone. Deployments
// running several proxies in front of one zone need the Redis-backed locker
// instead.
package memorylocker

import (
	"context"
	"sync"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/handler"
)

// MemoryLocker holds locks in a process-local map. Locks disappear when the
// process exits.
type MemoryLocker struct {
	mutex sync.Mutex
	locks map[string]struct{}
}

// New creates a new in-memory locker.
func New() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]struct{}),
	}
}

func (locker *MemoryLocker) TryLock(_ context.Context, key string) (handler.Lock, bool) {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()

	if _, taken := locker.locks[key]; taken {
		return nil, false
	}
	locker.locks[key] = struct{}{}
	return &memoryLock{locker: locker, key: key}, true
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	once   sync.Once
}

// Unlock removes the lock entry. Unlocking twice is a no-op.
func (lock *memoryLock) Unlock() {
	lock.once.Do(func() {
		lock.locker.mutex.Lock()
		delete(lock.locker.locks, lock.key)
		lock.locker.mutex.Unlock()
	})
}
