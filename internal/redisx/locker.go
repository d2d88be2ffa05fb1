package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker is a SETNX based lock for idempotency keys.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client, ttl: TTLIdempotencyLock}
}

func (l *Locker) Acquire(ctx context.Context, key, token string) (bool, error) {
	ok, err := l.client.SetNX(ctx, fmt.Sprintf(KeyIdemPaymentCreate, key), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client, []string{fmt.Sprintf(KeyIdemPaymentCreate, key)}, token).Err()
}
