package stock

import (
	"context"
	"sync"
)

// MemoryStore keeps stock levels in process.
type MemoryStore struct {
	mu        sync.Mutex
	stock     map[string]int
	applied   map[string]bool
	shortages map[string][]Shortage
}

func NewMemoryStore(levels map[string]int) *MemoryStore {
	s := &MemoryStore{
		stock:     make(map[string]int, len(levels)),
		applied:   make(map[string]bool),
		shortages: make(map[string][]Shortage),
	}
	for id, n := range levels {
		s.stock[id] = n
	}
	return s
}

func (s *MemoryStore) ApplyDecrement(_ context.Context, orderID string, lines []Line) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied[orderID] {
		return Result{}, nil
	}
	s.applied[orderID] = true

	res := Result{Applied: true}
	for _, ln := range lines {
		have := s.stock[ln.ProductID]
		if have < ln.Qty {
			res.Shortages = append(res.Shortages, Shortage{ProductID: ln.ProductID, Requested: ln.Qty, Available: have})
			continue
		}
		s.stock[ln.ProductID] = have - ln.Qty
	}
	if len(res.Shortages) > 0 {
		s.shortages[orderID] = res.Shortages
	}
	return res, nil
}

func (s *MemoryStore) Level(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[productID]
}

func (s *MemoryStore) Shortages(orderID string) []Shortage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shortages[orderID]
}
