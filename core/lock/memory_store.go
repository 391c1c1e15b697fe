package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with a mutex-guarded map. It backs lockd
// daemons running without Redis and the package tests. Expired entries are
// dropped lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	counters map[string]int64
	now      func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

// SetClock replaces the store clock; tests use it to force expiry without
// sleeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) TryCreate(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpired(key)
	if _, held := s.entries[key]; held {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpired(key)
	entry, held := s.entries[key]
	if !held || entry.value != expected {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpired(key)
	entry, held := s.entries[key]
	if !held || entry.value != expected {
		return false, nil
	}
	entry.expiresAt = s.now().Add(ttl)
	s.entries[key] = entry
	return true, nil
}

func (s *MemoryStore) AtomicIncrement(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

func (s *MemoryStore) dropExpired(key string) {
	entry, held := s.entries[key]
	if held && !entry.expiresAt.After(s.now()) {
		delete(s.entries, key)
	}
}
