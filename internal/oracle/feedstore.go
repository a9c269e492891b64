package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FeedStore persists the latest oracle images so a restarted or sibling
// instance can price immediately.
type FeedStore interface {
	Put(ctx context.Context, acc Account) error
	LoadAll(ctx context.Context) ([]Account, error)
}

// MemoryFeedStore is a process-local FeedStore.
type MemoryFeedStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]Account
}

func NewMemoryFeedStore() *MemoryFeedStore {
	return &MemoryFeedStore{accounts: make(map[uuid.UUID]Account)}
}

func (s *MemoryFeedStore) Put(_ context.Context, acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.Key()] = acc
	return nil
}

func (s *MemoryFeedStore) LoadAll(_ context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	return out, nil
}

// RedisFeedStore keeps images in a single Redis hash keyed by address.
type RedisFeedStore struct {
	rdb *redis.Client
	key string
}

func NewRedisFeedStore(rdb *redis.Client, namespace string) *RedisFeedStore {
	return &RedisFeedStore{rdb: rdb, key: namespace + ":oracle:accounts"}
}

func (s *RedisFeedStore) Put(ctx context.Context, acc Account) error {
	data, err := EncodeAccount(acc)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.key, acc.Key().String(), data).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisFeedStore) LoadAll(ctx context.Context) ([]Account, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}
	out := make([]Account, 0, len(fields))
	for field, raw := range fields {
		acc, err := DecodeAccount([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", field, err)
		}
		out = append(out, acc)
	}
	return out, nil
}
