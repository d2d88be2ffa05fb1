package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
)

func fastPoll() PollConfig {
	return PollConfig{
		Initial:     time.Millisecond,
		Multiplier:  2,
		MaxInterval: 4 * time.Millisecond,
		MaxAttempts: 5,
		MaxWait:     time.Second,
	}
}

func TestPoller_ResolvesAfterPending(t *testing.T) {
	f := newFixture(t, 10)
	f.provider.set(payments.StatusPending, payments.StatusInProcess, payments.StatusApproved)

	status, err := NewPoller(f.rec, f.intents, fastPoll(), nil).Watch(context.Background(), f.intent.ID)
	require.NoError(t, err)

	assert.Equal(t, payments.StatusApproved, status)
	assert.Equal(t, int32(3), f.provider.lookups.Load())
	assert.Equal(t, orders.StatusPaid, f.orderStatus(t))
	assert.Equal(t, 7, f.stock.Level("p1"))
}

func TestPoller_ExhaustionLeavesIntentOpenForWebhook(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := NewPoller(f.rec, f.intents, fastPoll(), nil).Watch(ctx, f.intent.ID)
	assert.ErrorIs(t, err, ErrPollExhausted)
	assert.Equal(t, int32(5), f.provider.lookups.Load())

	got, _ := f.intents.ByID(ctx, f.intent.ID)
	assert.Equal(t, payments.StatusPending, got.Status)
	assert.True(t, got.PollExhausted)
	assert.Equal(t, payments.StatusExpired, got.DisplayStatus())
	assert.Equal(t, orders.StatusPending, f.orderStatus(t))

	_, err = f.rec.Apply(ctx, f.intent.ID, payments.StatusApproved, SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, f.orderStatus(t))
}

func TestPoller_UsesWholeWaitBudget(t *testing.T) {
	f := newFixture(t, 10)
	cfg := PollConfig{
		Initial:     20 * time.Millisecond,
		Multiplier:  2,
		MaxInterval: time.Second,
		MaxAttempts: 10,
		MaxWait:     200 * time.Millisecond,
	}

	start := time.Now()
	_, err := NewPoller(f.rec, f.intents, cfg, nil).Watch(context.Background(), f.intent.ID)
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrPollExhausted)

	// polls at 0, 20, 60, 140 and a last one capped to land on 200ms
	assert.Equal(t, int32(5), f.provider.lookups.Load())
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	got, _ := f.intents.ByID(context.Background(), f.intent.ID)
	assert.True(t, got.PollExhausted)
}

func TestPoller_StopsOnCancel(t *testing.T) {
	f := newFixture(t, 10)
	cfg := fastPoll()
	cfg.Initial = time.Hour
	cfg.MaxInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewPoller(f.rec, f.intents, cfg, nil).Watch(ctx, f.intent.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, _ := f.intents.ByID(context.Background(), f.intent.ID)
	assert.False(t, got.PollExhausted)
}

func TestPoller_UnknownIntentIsPermanent(t *testing.T) {
	f := newFixture(t, 10)
	_, err := NewPoller(f.rec, f.intents, fastPoll(), nil).Watch(context.Background(), "nope")
	assert.ErrorIs(t, err, payments.ErrNotFound)
	assert.Equal(t, int32(0), f.provider.lookups.Load())
}

func TestSweeper_ExpiresAbandonedIntents(t *testing.T) {
	f := newFixture(t, 10)
	s := NewSweeper(f.rec, f.intents, time.Hour, time.Minute, nil)
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := f.intents.ByID(context.Background(), f.intent.ID)
	assert.Equal(t, payments.StatusExpired, got.Status)
	assert.Equal(t, orders.StatusCancelled, f.orderStatus(t))
}

func TestSweeper_PrefersProviderDecision(t *testing.T) {
	f := newFixture(t, 10)
	f.provider.set(payments.StatusApproved)
	s := NewSweeper(f.rec, f.intents, time.Hour, time.Minute, nil)
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, orders.StatusPaid, f.orderStatus(t))
}

func TestSweeper_IgnoresFreshIntents(t *testing.T) {
	f := newFixture(t, 10)
	n, err := NewSweeper(f.rec, f.intents, time.Hour, time.Minute, nil).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
