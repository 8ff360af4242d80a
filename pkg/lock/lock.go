// Package lock provides keyed mutual exclusion for suggestion sets.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotAcquired is returned by TryLock when the key is already held
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held key
type Unlock func()

// Locker serializes work per key
type Locker interface {
	// Lock blocks until the key is held or ctx is done
	Lock(ctx context.Context, key string) (Unlock, error)
	// TryLock returns ErrNotAcquired instead of waiting
	TryLock(ctx context.Context, key string) (Unlock, error)
}

// LockAll acquires every key in sorted order so that two callers locking overlapping
// sets cannot deadlock. Duplicate keys are locked once.
func LockAll(ctx context.Context, l Locker, keys ...string) (Unlock, error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	held := make([]Unlock, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	var prev string
	for i, key := range sorted {
		if i > 0 && key == prev {
			continue
		}
		prev = key

		unlock, err := l.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}

	return release, nil
}
