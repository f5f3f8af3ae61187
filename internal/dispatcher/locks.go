package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry is a per-key mutex with a reference count so idle keys can be
// dropped from the map.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyLocks serializes work per conversation key inside one process.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*lockEntry)}
}

func (k *keyLocks) acquire(key string) *lockEntry {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return entry
}

func (k *keyLocks) release(key string, entry *lockEntry) {
	entry.mu.Unlock()

	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// withLock runs fn while holding the local lock for key and, when a
// distributed locker is configured, the cluster-wide lock as well.
func (d *Dispatcher) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	entry := d.locks.acquire(key)
	defer d.locks.release(key, entry)

	if d.locker != nil {
		unlock, err := d.locker.Lock(ctx, key, d.lockTTL)
		if err != nil {
			return err
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("Dispatcher.withLock: failed to release distributed lock", "key", key, "error", err)
			}
		}()
	}

	return fn(ctx)
}
