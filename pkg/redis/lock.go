package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/thistle/pkg/lock"
)

// ErrLockNotHeld is returned when releasing a lease that expired or was taken over
var ErrLockNotHeld = errors.New("lock not held")

const (
	pollInterval = 25 * time.Millisecond
	releaseGrace = 5 * time.Second
)

var compareAndDelete = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lease is a held key. Only the token written on acquire can release it.
type Lease struct {
	client *Client
	key    string
	token  string
}

// Release deletes the key if this lease still owns it
func (l *Lease) Release(ctx context.Context) error {
	deleted, err := compareAndDelete.Run(ctx, l.client.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Locker takes expiring leases on keys under a prefix
type Locker struct {
	client *Client
	prefix string
}

// NewLocker creates a Locker. An empty prefix uses "thistle:lock:".
func NewLocker(client *Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "thistle:lock:"
	}
	return &Locker{client: client, prefix: prefix}
}

// Acquire makes one attempt to take key for ttl
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{client: l.client, key: l.prefix + key, token: uuid.NewString()}

	ok, err := l.client.rdb.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lock.ErrNotAcquired
	}
	return lease, nil
}

// Wait polls for key until it is free, ctx is done or wait elapses
func (l *Locker) Wait(ctx context.Context, key string, ttl, wait time.Duration) (*Lease, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		lease, err := l.Acquire(ctx, key, ttl)
		if !errors.Is(err, lock.ErrNotAcquired) {
			return lease, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, lock.ErrNotAcquired
		case <-ticker.C:
		}
	}
}

// SetLocker serializes suggestion-set writes across service instances
type SetLocker struct {
	locker *Locker
	ttl    time.Duration
	wait   time.Duration
}

var _ lock.Locker = (*SetLocker)(nil)

// NewSetLocker adapts a Locker to lock.Locker. ttl bounds how long a crashed holder
// can block a key. wait bounds a blocking Lock call.
func NewSetLocker(client *Client, prefix string, ttl, wait time.Duration) *SetLocker {
	return &SetLocker{
		locker: NewLocker(client, prefix),
		ttl:    ttl,
		wait:   wait,
	}
}

func (s *SetLocker) Lock(ctx context.Context, key string) (lock.Unlock, error) {
	lease, err := s.locker.Wait(ctx, key, s.ttl, s.wait)
	if err != nil {
		return nil, err
	}
	return s.unlock(ctx, lease), nil
}

func (s *SetLocker) TryLock(ctx context.Context, key string) (lock.Unlock, error) {
	lease, err := s.locker.Acquire(ctx, key, s.ttl)
	if err != nil {
		return nil, err
	}
	return s.unlock(ctx, lease), nil
}

func (s *SetLocker) unlock(ctx context.Context, lease *Lease) lock.Unlock {
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseGrace)
		defer cancel()
		if err := lease.Release(ctx); err != nil {
			s.locker.client.logger.WithContext(ctx).WithError(err).WithField("key", lease.key).Warn("Failed to release suggestion lock")
		}
	}
}
