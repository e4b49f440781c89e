// Package lock provides the distributed mutex that serializes refresh-token
// rotation. The production implementation rides on Redis SET NX EX; a
// single-process implementation backs tests.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhive/taskhive/internal/crypt"
)

// Lease is one successful acquisition. Releasing it frees the lock only
// while this acquisition still holds it, so a lease whose TTL expired
// cannot free the lock from a later holder. Releasing twice is a no-op.
type Lease interface {
	Release(ctx context.Context) error
}

// DistributedLock is the capability the rotation engine depends on. Acquire
// never blocks: contention is reported to the caller, who fails the request
// rather than queueing behind the winner.
type DistributedLock interface {
	// TryAcquire attempts to take the lock for key with the given TTL and
	// reports whether this caller won it. The lease is non-nil exactly
	// when the second return is true.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}

// releaseScript deletes the key only when it still carries this holder's
// token, so a slow request cannot free a lock a later acquirer owns.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock implements DistributedLock on a Redis client.
type RedisLock struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLock builds a RedisLock. The prefix namespaces lock keys away
// from other Redis users.
func NewRedisLock(client redis.UniversalClient, prefix string) *RedisLock {
	if prefix == "" {
		prefix = "lk:"
	}
	return &RedisLock{client: client, prefix: prefix}
}

func (l *RedisLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	token, err := crypt.RandomToken(16)
	if err != nil {
		return nil, false, err
	}

	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: l.prefix + key, token: token}, true, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (le *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("lock: release %s: %w", le.key, err)
	}
	return nil
}

// LocalLock is a single-process DistributedLock for tests.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]localEntry
	seq  uint64
	now  func() time.Time
}

type localEntry struct {
	token  uint64
	expiry time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLock) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expiry) {
		return nil, false, nil
	}
	l.seq++
	l.held[key] = localEntry{token: l.seq, expiry: now.Add(ttl)}
	return &localLease{lock: l, key: key, token: l.seq}, true, nil
}

type localLease struct {
	lock  *LocalLock
	key   string
	token uint64
}

func (le *localLease) Release(context.Context) error {
	le.lock.mu.Lock()
	defer le.lock.mu.Unlock()
	if cur, ok := le.lock.held[le.key]; ok && cur.token == le.token {
		delete(le.lock.held, le.key)
	}
	return nil
}
