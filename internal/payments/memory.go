package payments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process IntentStore for tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*PaymentIntent
	byKey map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*PaymentIntent),
		byKey: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, p PaymentIntent, since time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[p.IdempotencyKey]; ok && !s.byID[id].CreatedAt.Before(since) {
		return ErrDuplicateKey
	}
	cp := p
	s.byID[p.ID] = &cp
	s.byKey[p.IdempotencyKey] = p.ID
	return nil
}

func (s *MemoryStore) ByKey(_ context.Context, key string, since time.Time) (PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return PaymentIntent{}, ErrNotFound
	}
	p := s.byID[id]
	if p.CreatedAt.Before(since) {
		return PaymentIntent{}, ErrNotFound
	}
	return *p, nil
}

func (s *MemoryStore) ByID(_ context.Context, id string) (PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return PaymentIntent{}, ErrNotFound
	}
	return *p, nil
}

func (s *MemoryStore) ByExternalID(_ context.Context, externalID string) (PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.ExternalID == externalID {
			return *p, nil
		}
	}
	return PaymentIntent{}, ErrNotFound
}

func (s *MemoryStore) Transition(_ context.Context, id string, to Status, at time.Time) (PaymentIntent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return PaymentIntent{}, false, ErrNotFound
	}
	if !CanTransition(p.Status, to) {
		return *p, false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	if to == StatusApproved {
		paid := at
		p.PaidAt = &paid
	}
	return *p, true, nil
}

func (s *MemoryStore) MarkPollExhausted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.PollExhausted = true
	return nil
}

func (s *MemoryStore) ListStale(_ context.Context, before time.Time, limit int) ([]PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PaymentIntent
	for _, p := range s.byID {
		if !p.Status.Terminal() && p.CreatedAt.Before(before) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]string
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]string)}
}

func (l *MemoryLocker) Acquire(_ context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locks[key]; held {
		return false, nil
	}
	l.locks[key] = token
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] == token {
		delete(l.locks, key)
	}
	return nil
}
