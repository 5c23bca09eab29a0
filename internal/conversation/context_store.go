package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultContextTTL bounds how long an idle context survives in Redis.
const DefaultContextTTL = 24 * time.Hour

// ContextStore holds one Context per conversation.
type ContextStore interface {
	Get(ctx context.Context, conversationID string) (*Context, error)
	Save(ctx context.Context, c *Context) error
	Delete(ctx context.Context, conversationID string) error
}

// MemoryContextStore keeps contexts in process. Reads and writes copy the
// context so callers never share state.
type MemoryContextStore struct {
	mu       sync.RWMutex
	contexts map[string]*Context
}

// NewMemoryContextStore creates an empty store.
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{contexts: make(map[string]*Context)}
}

func (s *MemoryContextStore) Get(ctx context.Context, conversationID string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[conversationID]
	if !ok {
		return nil, ErrContextNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryContextStore) Save(ctx context.Context, c *Context) error {
	if c == nil || c.ConversationID == "" {
		return errors.New("conversation: context with conversation id required")
	}
	s.mu.Lock()
	s.contexts[c.ConversationID] = c.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryContextStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.contexts, conversationID)
	s.mu.Unlock()
	return nil
}

// Len reports how many contexts are live.
func (s *MemoryContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// RedisContextStore stores contexts as JSON documents with a sliding TTL so
// several API and worker instances share them.
type RedisContextStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisContextStore creates a Redis-backed store.
func NewRedisContextStore(client *redis.Client, ttl time.Duration) *RedisContextStore {
	if client == nil {
		panic("conversation: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultContextTTL
	}
	return &RedisContextStore{redis: client, ttl: ttl}
}

func (s *RedisContextStore) key(conversationID string) string {
	return fmt.Sprintf("conversation:booking_context:%s", conversationID)
}

func (s *RedisContextStore) Get(ctx context.Context, conversationID string) (*Context, error) {
	data, err := s.redis.Get(ctx, s.key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrContextNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get context: %w", err)
	}
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("conversation: decode context: %w", err)
	}
	return &c, nil
}

func (s *RedisContextStore) Save(ctx context.Context, c *Context) error {
	if c == nil || c.ConversationID == "" {
		return errors.New("conversation: context with conversation id required")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("conversation: encode context: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(c.ConversationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: save context: %w", err)
	}
	return nil
}

func (s *RedisContextStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.redis.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("conversation: delete context: %w", err)
	}
	return nil
}
