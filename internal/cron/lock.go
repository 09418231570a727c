package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ispbox-backend/pkg/instance"
)

const defaultLockTTL = 10 * time.Minute

// Locker grants one worker at a time the right to run a named job.
type Locker interface {
	Acquire(ctx context.Context, job string) (bool, error)
	Release(ctx context.Context, job string) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	LockKey(name string) string
}

// RedisLocker keeps one key per job. The stored token names the holding
// process and run, so a release after TTL expiry leaves another worker's
// lock in place.
type RedisLocker struct {
	store    lockStore
	ttl      time.Duration
	newToken func() string

	mu   sync.Mutex
	held map[string]string
}

func NewRedisLocker(store lockStore, ttl time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis store required for cron locks")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{
		store:    store,
		ttl:      ttl,
		newToken: func() string { return instance.ID() + "/" + uuid.NewString() },
		held:     map[string]string{},
	}, nil
}

func (l *RedisLocker) key(job string) string {
	return l.store.LockKey("cron:" + job)
}

func (l *RedisLocker) Acquire(ctx context.Context, job string) (bool, error) {
	token := l.newToken()
	ok, err := l.store.SetNX(ctx, l.key(job), token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s lock: %w", job, err)
	}
	if ok {
		l.mu.Lock()
		l.held[job] = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Release is a no-op for jobs this locker does not hold.
func (l *RedisLocker) Release(ctx context.Context, job string) error {
	l.mu.Lock()
	token, ok := l.held[job]
	delete(l.held, job)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key(job), token); err != nil {
		return fmt.Errorf("release %s lock: %w", job, err)
	}
	return nil
}
