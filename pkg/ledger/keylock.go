package ledger

import (
	"context"
	"sync"
)

// KeyLock serializes callers that share a key while callers with different
// keys proceed independently. The zero value is not usable; call NewKeyLock.
type KeyLock[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*keyLockEntry
}

// keyLockEntry is the per-key slot. The channel holds a token while the key
// is taken; refs counts the holder plus every waiter.
type keyLockEntry struct {
	token chan struct{}
	refs  int
}

// NewKeyLock returns an empty KeyLock.
func NewKeyLock[K comparable]() *KeyLock[K] {
	return &KeyLock[K]{entries: make(map[K]*keyLockEntry)}
}

// Acquire blocks until key is free or ctx is done. On a context error the
// caller holds nothing and must not call Release.
func (lock *KeyLock[K]) Acquire(ctx context.Context, key K) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock.mu.Lock()
	entry, ok := lock.entries[key]
	if !ok {
		entry = &keyLockEntry{token: make(chan struct{}, 1)}
		lock.entries[key] = entry
	}
	entry.refs++
	lock.mu.Unlock()

	select {
	case entry.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		lock.mu.Lock()
		lock.dropRef(key, entry)
		lock.mu.Unlock()
		return ctx.Err()
	}
}

// Release frees key for the next waiter. Releasing a key that is not held panics.
func (lock *KeyLock[K]) Release(key K) {
	lock.mu.Lock()
	defer lock.mu.Unlock()
	entry, ok := lock.entries[key]
	if !ok {
		panic("ledger: release of unlocked key")
	}
	select {
	case <-entry.token:
	default:
		panic("ledger: release of unlocked key")
	}
	lock.dropRef(key, entry)
}

// Len reports how many keys are currently held or awaited.
func (lock *KeyLock[K]) Len() int {
	lock.mu.Lock()
	defer lock.mu.Unlock()
	return len(lock.entries)
}

// dropRef must be called with mu held.
func (lock *KeyLock[K]) dropRef(key K, entry *keyLockEntry) {
	entry.refs--
	if entry.refs == 0 {
		delete(lock.entries, key)
	}
}
