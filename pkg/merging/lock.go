package merging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	cloverredis "github.com/Ramsey-B/clover/pkg/redis"
)

// Lock is a held pair lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker guards one client for the duration of a merge. Acquire returns an
// error wrapping ErrMergeInProgress when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// ClientKey identifies the merge lock of one client.
func ClientKey(accountID, clientID string) string {
	return fmt.Sprintf("merge:%s:%s", accountID, clientID)
}

// lockClients takes one lock per client, in sorted id order, so merges that
// share any participant (a<-b and b<-c) serialize without deadlocking.
// On failure the locks already taken are released.
func lockClients(ctx context.Context, locker Locker, ttl time.Duration, accountID string, ids ...string) ([]Lock, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]Lock, 0, len(sorted))
	for _, id := range sorted {
		lock, err := locker.Acquire(ctx, ClientKey(accountID, id), ttl)
		if err != nil {
			releaseAll(context.WithoutCancel(ctx), held)
			return nil, err
		}
		held = append(held, lock)
	}
	return held, nil
}

// releaseAll frees locks in reverse order and returns the first error.
func releaseAll(ctx context.Context, locks []Lock) error {
	var first error
	for i := len(locks) - 1; i >= 0; i-- {
		if err := locks[i].Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type redisLocker struct {
	locker *cloverredis.Locker
}

// NewRedisLocker adapts the redis Locker to pair locking across instances.
func NewRedisLocker(locker *cloverredis.Locker) Locker {
	return &redisLocker{locker: locker}
}

func (r *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := r.locker.Acquire(ctx, key, ttl)
	if errors.Is(err, cloverredis.ErrLockNotAcquired) {
		return nil, fmt.Errorf("%w: %s", ErrMergeInProgress, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pair lock: %w", err)
	}
	return lock, nil
}

// LocalLocker locks pairs within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%w: %s", ErrMergeInProgress, key)
	}
	l.held[key] = struct{}{}
	return &localLock{owner: l, key: key}, nil
}

type localLock struct {
	owner *LocalLocker
	key   string
	once  sync.Once
}

func (l *localLock) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.key)
		l.owner.mu.Unlock()
	})
	return nil
}
