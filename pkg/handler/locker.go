package handler

import "context"

// ConditionalLocker serializes conditional writes to one object key. It is
// the only synchronization primitive conditional PUT relies on, so an
// implementation shared by several proxy processes must be backed by shared
// state.
type ConditionalLocker interface {
	// TryLock attempts to become the sole holder of the lock for key. It
	// never blocks waiting for another holder; ok is false when the lock is
	// already taken or cannot be acquired.
	TryLock(ctx context.Context, key string) (lock Lock, ok bool)
}

// Lock is a held conditional lock.
type Lock interface {
	// Unlock releases the lock. Releasing an already-released or expired
	// lock is a no-op.
	Unlock()
}
