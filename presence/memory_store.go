package presence

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store backed by go-cache. Entries may carry a
// TTL so a node that dies without cleaning up does not leave them forever.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates an in-memory Store.
//
// Parameters:
//   - ttl: Lifetime of each entry (use cache.NoExpiration to keep entries until removed)
//   - cleanupInterval: Interval at which expired entries are purged
//
// Returns:
//   - A new *MemoryStore
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	s.cache.Set(entry.Addr, entry, s.ttl)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, addr string) error {
	s.cache.Delete(addr)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, addr string) (Entry, error) {
	val, found := s.cache.Get(addr)
	if !found {
		return Entry{}, ErrNotFound
	}

	entry, ok := val.(Entry)
	if !ok {
		return Entry{}, ErrNotFound
	}

	return entry, nil
}

// Count returns the number of entries. Expired entries not yet purged are
// included.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	return s.cache.ItemCount(), nil
}
