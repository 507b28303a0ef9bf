// Package lock provides the per-transaction exclusive lock that guarantees a
// single in-flight attempt per transaction id.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned by Acquire when another owner holds the lock.
var ErrLocked = errors.New("lock held by another owner")

// ErrLost is returned when a lease is extended or released after it expired
// and someone else took over.
var ErrLost = errors.New("lock no longer owned")

const DefaultTTL = 5 * time.Minute

// Locker hands out exclusive leases keyed by transaction id.
type Locker interface {
	Acquire(ctx context.Context, id string) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Redis locks with SET NX PX and an owner token; release and extend are
// compare-and-act scripts so an expired owner cannot touch a new owner's lock.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: "lock:tx:", ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, id string) (Lease, error) {
	key := r.prefix + id
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLease{owner: r, key: key, token: token}, nil
}

type redisLease struct {
	owner *Redis
	key   string
	token string

	mu       sync.Mutex
	released bool
}

func (l *redisLease) Extend(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrLost
	}
	n, err := extendScript.Run(ctx, l.owner.client, []string{l.key}, l.token, l.owner.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	n, err := releaseScript.Run(ctx, l.owner.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

// Memory is a process-local Locker for single-node runs and tests.
type Memory struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]string)}
}

func (m *Memory) Acquire(_ context.Context, id string) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[id]; ok {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	m.held[id] = token
	return &memoryLease{owner: m, id: id, token: token}, nil
}

// Held reports whether id is currently locked.
func (m *Memory) Held(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[id]
	return ok
}

type memoryLease struct {
	owner *Memory
	id    string
	token string
}

func (l *memoryLease) Extend(context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if l.owner.held[l.id] != l.token {
		return ErrLost
	}
	return nil
}

func (l *memoryLease) Release(context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if l.owner.held[l.id] == l.token {
		delete(l.owner.held, l.id)
	}
	return nil
}
