package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

const defaultKeyPrefix = "clover:lock:"

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// compare-and-delete so an expired holder cannot free a successor's lock
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Locker hands out single-attempt locks that expire after a TTL.
type Locker struct {
	client *Client
	prefix string
}

func NewLocker(client *Client, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Locker{client: client, prefix: keyPrefix}
}

// Lock is held until Release or until ExpiresAt, whichever comes first.
type Lock struct {
	locker    *Locker
	key       string
	token     string
	ExpiresAt time.Time
}

// Acquire does not wait: a key that is already held returns ErrLockNotAcquired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.Locker.Acquire")
	defer span.End()

	token := uuid.NewString()
	err := l.client.rdb.SetArgs(ctx, l.prefix+key, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, ErrLockNotAcquired
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	l.client.logger.WithContext(ctx).WithFields(map[string]any{
		"key": key,
		"ttl": ttl.String(),
	}).Debug("Lock acquired")
	return &Lock{locker: l, key: key, token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

// Release returns ErrLockNotHeld when the lock already expired.
func (lock *Lock) Release(ctx context.Context) error {
	l := lock.locker
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{l.prefix + lock.key}, lock.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		l.client.logger.WithContext(ctx).WithField("key", lock.key).Warn("Lock expired before release")
		return ErrLockNotHeld
	}
	l.client.logger.WithContext(ctx).WithField("key", lock.key).Debug("Lock released")
	return nil
}
