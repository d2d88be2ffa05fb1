package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers which events a consumer has already taken.
type Dedup struct {
	client *redis.Client
}

func NewDedup(client *redis.Client) *Dedup {
	return &Dedup{client: client}
}

// Claim reports whether this call is the first to see eventID for consumer.
func (d *Dedup) Claim(ctx context.Context, consumer, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, fmt.Sprintf(KeyDedup, consumer, eventID), "1", TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Forget drops a claim so a redelivered event is processed again.
func (d *Dedup) Forget(ctx context.Context, consumer, eventID string) error {
	return d.client.Del(ctx, fmt.Sprintf(KeyDedup, consumer, eventID)).Err()
}
