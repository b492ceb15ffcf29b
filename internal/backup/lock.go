package backup

import (
	"context"
	"sync"
	"time"
)

// StoreLock serializes mutating operations (backup, restore) against the
// live store while letting health probes take a bounded shared read side.
// It replaces any global "operation in progress" flag: acquisition returns
// a release func that every exit path must call.
type StoreLock struct {
	mu sync.RWMutex
}

const lockPollInterval = 25 * time.Millisecond

// Acquire takes the exclusive side, waiting until the lock frees or ctx is
// done.
func (l *StoreLock) Acquire(ctx context.Context) (func(), error) {
	for {
		if l.mu.TryLock() {
			return l.unlockOnce(), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// TryAcquire takes the exclusive side without waiting.
func (l *StoreLock) TryAcquire() (func(), bool) {
	if l.mu.TryLock() {
		return l.unlockOnce(), true
	}
	return nil, false
}

// AcquireShared takes the read side, waiting at most wait. Probes use this:
// a backup or restore in progress past the bound means skip this cycle, not
// block it.
func (l *StoreLock) AcquireShared(ctx context.Context, wait time.Duration) (func(), bool) {
	deadline := time.Now().Add(wait)
	for {
		if l.mu.TryRLock() {
			return l.runlockOnce(), true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(lockPollInterval):
		}
	}
}

func (l *StoreLock) unlockOnce() func() {
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }
}

func (l *StoreLock) runlockOnce() func() {
	var once sync.Once
	return func() { once.Do(l.mu.RUnlock) }
}
