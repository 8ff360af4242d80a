package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_TryLock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "a")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "a")
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.TryLock(ctx, "b")
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := l.TryLock(ctx, "a")
	require.NoError(t, err)
	again()

	assert.Empty(t, l.slots)
}

func TestLocal_LockHonorsContext(t *testing.T) {
	l := NewLocal()

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "shared")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, l.slots)
}

func TestLockAll(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlock, err := LockAll(ctx, l, "b", "a", "b")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "a")
	assert.ErrorIs(t, err, ErrNotAcquired)
	_, err = l.TryLock(ctx, "b")
	assert.ErrorIs(t, err, ErrNotAcquired)

	unlock()

	for _, key := range []string{"a", "b"} {
		u, err := l.TryLock(ctx, key)
		require.NoError(t, err)
		u()
	}
}

func TestLockAll_ReleasesOnFailure(t *testing.T) {
	l := NewLocal()

	held, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	defer held()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = LockAll(ctx, l, "a", "b")
	require.Error(t, err)

	u, err := l.TryLock(context.Background(), "a")
	require.NoError(t, err)
	u()
}
