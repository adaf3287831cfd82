package memory

import (
	"context"
	"fmt"
	"sync"

	"presence-tracker/internal/models"

	"golang.org/x/sync/semaphore"
)

// KeyedLocker is an in-process models.Locker with one weighted semaphore per
// user. Entries are reference counted and dropped once nobody holds or waits.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[string]*lockEntry)}
}

func (l *KeyedLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[userID]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.drop(userID, entry)
		return nil, fmt.Errorf("%w: %v", models.ErrLockUnavailable, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.drop(userID, entry)
		})
	}, nil
}

func (l *KeyedLocker) drop(userID string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, userID)
	}
}

// size is the number of live entries, for tests.
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
