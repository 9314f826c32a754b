// Package session stores live admin session ids, in Redis when configured
// and in process memory otherwise.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "duashare:session:"

type RedisStore struct {
	Client *redis.Client
}

func NewRedisStore(addr, username, password string, db int) *RedisStore {
	return &RedisStore{Client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})}
}

func (s *RedisStore) Create(ctx context.Context, sessionID string, ttl time.Duration) error {
	return s.Client.Set(ctx, keyPrefix+sessionID, "1", ttl).Err()
}

func (s *RedisStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.Client.Exists(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Revoke(ctx context.Context, sessionID string) error {
	return s.Client.Del(ctx, keyPrefix+sessionID).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

type MemoryStore struct {
	Now func() time.Time

	mu      sync.Mutex
	expires map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:     time.Now,
		expires: map[string]time.Time{},
	}
}

func (s *MemoryStore) Create(_ context.Context, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[sessionID] = s.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[sessionID]
	if !ok {
		return false, nil
	}
	if !s.Now().Before(exp) {
		delete(s.expires, sessionID)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Revoke(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.expires, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error              { return nil }

// Store is the session backend handed to auth.AdminService.
type Store interface {
	Create(ctx context.Context, sessionID string, ttl time.Duration) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Revoke(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
	Close() error
}

// Open returns a Redis store when addr is set. Without Redis, sessions live in
// process memory and do not survive restarts or span replicas.
func Open(addr, username, password string, db int) Store {
	if addr == "" {
		return NewMemoryStore()
	}
	return NewRedisStore(addr, username, password, db)
}
