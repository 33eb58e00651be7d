// Package dedup remembers processed message ids for at-least-once consumers.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store interface {
	// FirstSeen marks key as seen and reports whether this call was the first.
	FirstSeen(ctx context.Context, key string) (bool, error)
	// Forget drops key so the message can be processed again.
	Forget(ctx context.Context, key string) error
}

type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) FirstSeen(ctx context.Context, key string) (bool, error) {
	return s.rdb.SetNX(ctx, "dedup:"+s.prefix+":"+key, "1", s.ttl).Result()
}

func (s *RedisStore) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, "dedup:"+s.prefix+":"+key).Err()
}

type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[string]bool{}}
}

func (s *MemoryStore) FirstSeen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
	return nil
}
