package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRunInProgress is returned when another run holds the tenant day.
	ErrRunInProgress = errors.New("orchestrator: run already in progress")
	// ErrLockLost is returned when a held lock expired before it was refreshed.
	ErrLockLost = errors.New("orchestrator: lock lost")
)

// Lease is a held lock.
type Lease interface {
	// Refresh extends the lease by ttl from now.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker grants exclusive access to a key for at most ttl unless refreshed.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// RedisLocker locks keys across processes through Redis.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker constructs RedisLocker.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

// Acquire obtains key without retrying. A held key yields ErrRunInProgress.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, key)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: obtain lock %s: %w", key, err)
	}
	return redisLease{lock: lock}, nil
}

type redisLease struct {
	lock *redislock.Lock
}

func (l redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	err := l.lock.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrLockLost, l.lock.Key())
	}
	return err
}

func (l redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// LocalLocker locks keys within one process. The ttl is ignored.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]*localLease
}

// NewLocalLocker constructs LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]*localLease)}
}

// Acquire marks key as held, or returns ErrRunInProgress.
func (l *LocalLocker) Acquire(_ context.Context, key string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, key)
	}
	lease := &localLease{locker: l, key: key}
	l.held[key] = lease
	return lease, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
}

func (l *localLease) Refresh(context.Context, time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.key] != l {
		return fmt.Errorf("%w: %s", ErrLockLost, l.key)
	}
	return nil
}

func (l *localLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.key] == l {
		delete(l.locker.held, l.key)
	}
	return nil
}
