package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MemoryBackend keeps contexts in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	contexts map[string]*Context
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{contexts: make(map[string]*Context)}
}

func (m *MemoryBackend) Load(ctx context.Context, sessionID string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contexts[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.clone(), nil
}

func (m *MemoryBackend) Save(ctx context.Context, c *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[c.SessionID] = c.clone()
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, sessionID)
	return nil
}

const contextPrefix = "nl2sql:context:"

// RedisBackend stores each context as JSON under nl2sql:context:<session>.
// A zero ttl keeps contexts until they are cleared.
type RedisBackend struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisBackend creates a redis-backed store
func NewRedisBackend(redisClient *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		redis: redisClient,
		ttl:   ttl,
	}
}

func (r *RedisBackend) Load(ctx context.Context, sessionID string) (*Context, error) {
	data, err := r.redis.Get(ctx, contextPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context: %w", err)
	}

	var c Context
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return &c, nil
}

func (r *RedisBackend) Save(ctx context.Context, c *Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	if err := r.redis.Set(ctx, contextPrefix+c.SessionID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store context: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, sessionID string) error {
	return r.redis.Del(ctx, contextPrefix+sessionID).Err()
}

// Ping checks the redis connection.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}
