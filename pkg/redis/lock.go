package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 25 * time.Hour

// lockStore defines the operations used by Lock.
type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// Lock is a best-effort mutual exclusion built on SETNX + TTL. The TTL bounds
// how long a crashed holder can block others.
type Lock struct {
	client lockStore
	key    string
	ttl    time.Duration
	owner  string
}

// NewLock constructs a Redis-backed lock.
func NewLock(client lockStore, key string, ttl time.Duration) (*Lock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Lock{client: client, key: key, ttl: ttl}, nil
}

// Key returns the redis key guarding the lock.
func (l *Lock) Key() string {
	return l.key
}

// Acquire tries to own the lock for the configured TTL.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	return l.AcquireAs(ctx, uuid.NewString())
}

// AcquireAs takes the lock under a caller-chosen owner value. A holder that
// presents the same owner re-enters, which lets a redelivered task reclaim a
// lock left behind by a crashed worker. Re-entry restarts the TTL.
func (l *Lock) AcquireAs(ctx context.Context, owner string) (bool, error) {
	if owner == "" {
		return false, errors.New("lock owner is required")
	}
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		current, err := l.client.Get(ctx, l.key)
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return false, fmt.Errorf("read lock owner: %w", err)
		case current != owner:
			return false, nil
		default:
			if err := l.client.Del(ctx, l.key); err != nil {
				return false, fmt.Errorf("reset lock: %w", err)
			}
		}
		if ok, err = l.client.SetNX(ctx, l.key, owner, l.ttl); err != nil {
			return false, fmt.Errorf("setnx: %w", err)
		}
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if the owner value still matches.
func (l *Lock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	value, err := l.client.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != l.owner {
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	l.owner = ""
	return nil
}
