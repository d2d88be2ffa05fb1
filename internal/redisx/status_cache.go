package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusCache holds the rendered order status document for GET /orders/{id}.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

// Get returns the cached document; ok is false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *StatusCache) Set(ctx context.Context, orderID string, doc []byte) error {
	return c.client.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), doc, TTLStatusCache).Err()
}

// Invalidate drops the cached status after a transition.
func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.client.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
