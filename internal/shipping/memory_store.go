package shipping

import (
	"context"
	"sync"
	"time"
)

// MemoryQuoteStore keeps quotes in process. It never evicts on its own; expired
// entries are removed by the cache when read.
type MemoryQuoteStore struct {
	mu      sync.RWMutex
	entries map[string]Quote
}

func NewMemoryQuoteStore() *MemoryQuoteStore {
	return &MemoryQuoteStore{entries: make(map[string]Quote)}
}

func (s *MemoryQuoteStore) Get(_ context.Context, key string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.entries[key]
	if !ok {
		return Quote{}, ErrCacheMiss
	}
	return q, nil
}

func (s *MemoryQuoteStore) Set(_ context.Context, key string, q Quote, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = q
	return nil
}

func (s *MemoryQuoteStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
