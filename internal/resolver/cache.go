package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"policy-orchestrator/internal/models"

	"github.com/redis/go-redis/v9"
)

// Cache stores candidate lists keyed by kind and normalized query.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.EntityCandidate, bool, error)
	Set(ctx context.Context, key string, candidates []models.EntityCandidate, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisCache keeps candidate lists as JSON strings with an expiry.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]models.EntityCandidate, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []models.EntityCandidate
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, candidates []models.EntityCandidate, ttl time.Duration) error {
	raw, err := json.Marshal(candidates)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// MemoryCache is a process-local Cache with lazy expiry. When full, an
// arbitrary entry is evicted.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

type memoryEntry struct {
	candidates []models.EntityCandidate
	expires    time.Time
}

// NewMemoryCache builds a cache holding at most maxEntries lists; zero means
// unbounded.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), maxEntries: maxEntries, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]models.EntityCandidate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	out := make([]models.EntityCandidate, len(e.candidates))
	copy(out, e.candidates)
	return out, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, candidates []models.EntityCandidate, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{candidates: append([]models.EntityCandidate(nil), candidates...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
