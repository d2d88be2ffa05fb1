package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

// QuoteStore keeps shipping quotes in Redis as JSON.
type QuoteStore struct {
	client *redis.Client
}

func NewQuoteStore(client *redis.Client) *QuoteStore {
	return &QuoteStore{client: client}
}

func (s *QuoteStore) Get(ctx context.Context, key string) (shipping.Quote, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyShippingQuote, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return shipping.Quote{}, shipping.ErrCacheMiss
	}
	if err != nil {
		return shipping.Quote{}, fmt.Errorf("redis get failed: %w", err)
	}
	var q shipping.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return shipping.Quote{}, fmt.Errorf("unmarshal quote failed: %w", err)
	}
	return q, nil
}

func (s *QuoteStore) Set(ctx context.Context, key string, q shipping.Quote, ttl time.Duration) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote failed: %w", err)
	}
	if err := s.client.Set(ctx, fmt.Sprintf(KeyShippingQuote, key), data, ttl+TTLQuoteGrace).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *QuoteStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, fmt.Sprintf(KeyShippingQuote, key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
