package redisx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestQuoteStore_RoundTripAndTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewQuoteStore(client)
	ctx := context.Background()

	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, shipping.ErrCacheMiss)

	q := shipping.Quote{
		Key:         "abc",
		Destination: "20040020",
		Options: []shipping.Option{{
			ServiceCode: shipping.ServicePAC,
			Price:       decimal.RequireFromString("15.50"),
			ETADays:     8,
			ExpiresAt:   time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC),
		}},
	}
	require.NoError(t, store.Set(ctx, "abc", q, 5*time.Minute))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, got.Options, 1)
	assert.True(t, got.Options[0].Price.Equal(decimal.RequireFromString("15.5")))
	assert.Equal(t, q.Options[0].ExpiresAt, got.Options[0].ExpiresAt.UTC())

	assert.Equal(t, 5*time.Minute+TTLQuoteGrace, mr.TTL(fmt.Sprintf(KeyShippingQuote, "abc")))

	require.NoError(t, store.Delete(ctx, "abc"))
	assert.False(t, mr.Exists(fmt.Sprintf(KeyShippingQuote, "abc")))
}

func TestQuoteStore_CorruptEntry(t *testing.T) {
	client, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(fmt.Sprintf(KeyShippingQuote, "bad"), "{not json"))

	_, err := NewQuoteStore(client).Get(context.Background(), "bad")
	require.ErrorContains(t, err, "unmarshal quote failed")
}

func TestLocker_OnlyOneHolder(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := locker.Acquire(ctx, "abc123", fmt.Sprintf("tok-%d", i))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestLocker_ReleaseRequiresToken(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "k", "mine")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TTLIdempotencyLock, mr.TTL(fmt.Sprintf(KeyIdemPaymentCreate, "k")))

	require.NoError(t, locker.Release(ctx, "k", "theirs"))
	assert.True(t, mr.Exists(fmt.Sprintf(KeyIdemPaymentCreate, "k")))

	require.NoError(t, locker.Release(ctx, "k", "mine"))
	assert.False(t, mr.Exists(fmt.Sprintf(KeyIdemPaymentCreate, "k")))
}

func TestStatusCache_Invalidate(t *testing.T) {
	client, mr := setupTestRedis(t)
	key := fmt.Sprintf(KeyOrderStatus, "o1")
	require.NoError(t, mr.Set(key, `{"status":"pending"}`))

	require.NoError(t, NewStatusCache(client).Invalidate(context.Background(), "o1"))
	assert.False(t, mr.Exists(key))
}

func TestStatusCache_GetSet(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewStatusCache(client)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "o1", []byte(`{"status":"paid"}`)))
	doc, ok, err := cache.Get(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"status":"paid"}`, string(doc))
	assert.Equal(t, TTLStatusCache, mr.TTL(fmt.Sprintf(KeyOrderStatus, "o1")))
}

func TestDedup_ClaimOnce(t *testing.T) {
	client, mr := setupTestRedis(t)
	d := NewDedup(client)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "watcher", "ev1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, TTLDedup, mr.TTL(fmt.Sprintf(KeyDedup, "watcher", "ev1")))

	ok, err = d.Claim(ctx, "watcher", "ev1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.Claim(ctx, "other", "ev1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, d.Forget(ctx, "watcher", "ev1"))
	ok, err = d.Claim(ctx, "watcher", "ev1")
	require.NoError(t, err)
	assert.True(t, ok)
}
