package shared

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Unlock releases a held lock. It must be safe to call after ctx is done.
type Unlock func()

// Locker serializes critical sections keyed by project or person.
type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}

// ProjectLockKey guards the budget-ceiling check of a project.
func ProjectLockKey(projectID int64) string {
	return fmt.Sprintf("ledger:project:%d:allocations", projectID)
}

// BalanceLockKey guards instruction creation against one person's balance.
func BalanceLockKey(person PersonRef) string {
	return fmt.Sprintf("ledger:balance:%s:lock", person.Key())
}

const lockPollInterval = 25 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker constructs a RedisLocker. ttl bounds how long a crashed holder
// blocks others; wait bounds how long Acquire polls before reporting a conflict.
func NewRedisLocker(client redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait}
}

// Acquire polls until the key is free, the wait elapses or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: acquire lock %s: %v", ErrPersistence, key, err)
		}
		if ok {
			return func() {
				_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: lock %s held", ErrConcurrencyConflict, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// MemoryLocker is an in-process Locker for single-node deployments and tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{}), wait: wait}
}

// Acquire blocks until the key is released, the wait elapses or ctx is done.
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-ch:
		case <-timer.C:
			return nil, fmt.Errorf("%w: lock %s held", ErrConcurrencyConflict, key)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
