package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultKeyPrefix namespaces presence keys in Redis.
const DefaultKeyPrefix = "presence:"

const countTimeout = 10 * time.Second

// RedisStore is a Store shared by every node pointing at the same Redis.
// Entries are JSON values under prefix+addr.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisStore creates a Redis-backed Store.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, "", time.Hour)
//
// Parameters:
//   - client: Redis client; the store does not close it
//   - prefix: Key namespace; empty means DefaultKeyPrefix
//   - ttl: Lifetime of each entry; 0 keeps entries until removed
//
// Returns:
//   - A new *RedisStore
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(addr string) string {
	return s.prefix + addr
}

func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if err := s.client.Set(ctx, s.key(entry.Addr), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}

	return nil
}

func (s *RedisStore) Remove(ctx context.Context, addr string) error {
	if err := s.client.Del(ctx, s.key(addr)).Err(); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, addr string) (Entry, error) {
	val, err := s.client.Get(ctx, s.key(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}

	if err != nil {
		return Entry{}, fmt.Errorf("redis get error: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return entry, nil
}

// Count scans the key namespace. Concurrent callers share one scan, which
// runs detached from any single caller's cancellation and is bounded by
// countTimeout; each caller stops waiting when its own ctx is done.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	ch := s.group.DoChan("count", func() (any, error) {
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), countTimeout)
		defer cancel()

		count := 0
		iter := s.client.Scan(scanCtx, 0, s.prefix+"*", 0).Iterator()
		for iter.Next(scanCtx) {
			count++
		}

		if err := iter.Err(); err != nil {
			return 0, fmt.Errorf("failed to scan keys: %w", err)
		}

		return count, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
