package shipping

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/cart"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestClient(c Carrier, timeout time.Duration) *RateClient {
	return NewRateClient(c, Config{Timeout: timeout, QuoteTTL: 5 * time.Minute, EstimateTTL: time.Minute}, nil,
		WithClock(func() time.Time { return fixedNow }))
}

func TestQuote_PACPricedSEDEXTimesOut(t *testing.T) {
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		if req.Service == ServiceSEDEX {
			<-ctx.Done()
			return CarrierRate{}, ctx.Err()
		}
		return CarrierRate{Price: decimal.RequireFromString("15.50"), ETADays: 8}, nil
	})
	pkg := cart.Aggregate(cart.Snapshot{Items: []cart.LineItem{
		{ProductID: "a", Quantity: 2, UnitWeightG: 200, LengthCM: 20, WidthCM: 15, HeightCM: 4},
		{ProductID: "b", Quantity: 1, UnitWeightG: 600, LengthCM: 25, WidthCM: 20, HeightCM: 8},
	}})
	require.Equal(t, 1000, pkg.TotalWeightG)

	opts, err := newTestClient(carrier, 50*time.Millisecond).
		Quote(context.Background(), "01310-100", "20040020", pkg.TotalWeightG, DimensionsOf(pkg), []string{ServicePAC, ServiceSEDEX})
	require.NoError(t, err)
	require.Len(t, opts, 2)

	pac, sedex := opts[0], opts[1]
	assert.Equal(t, ServicePAC, pac.ServiceCode)
	assert.False(t, pac.IsEstimate)
	assert.True(t, pac.Price.Equal(decimal.RequireFromString("15.50")))
	assert.Equal(t, 8, pac.ETADays)
	assert.Equal(t, fixedNow.Add(5*time.Minute), pac.ExpiresAt)

	assert.Equal(t, ServiceSEDEX, sedex.ServiceCode)
	assert.True(t, sedex.IsEstimate)
	assert.Contains(t, sedex.Reason, "timeout")
	assert.True(t, sedex.Price.IsPositive())
	assert.Positive(t, sedex.ETADays)
	assert.True(t, sedex.ExpiresAt.Before(pac.ExpiresAt))
}

func TestQuote_SlowServiceDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	var pacDone atomic.Int64

	start := time.Now()
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		if req.Service == ServiceSEDEX {
			<-release // ignores ctx entirely
			return CarrierRate{}, errors.New("never")
		}
		pacDone.Store(int64(time.Since(start)))
		return CarrierRate{Price: decimal.NewFromInt(20), ETADays: 4}, nil
	})

	opts, err := newTestClient(carrier, 80*time.Millisecond).
		Quote(context.Background(), "01310100", "90010000", 500, Dimensions{16, 11, 2}, nil)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.False(t, opts[0].IsEstimate)
	assert.True(t, opts[1].IsEstimate)
	assert.Less(t, time.Duration(pacDone.Load()), 80*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestQuote_InvalidAddress(t *testing.T) {
	called := false
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		called = true
		return CarrierRate{}, nil
	})
	c := newTestClient(carrier, time.Second)

	for _, bad := range []string{"1234", "0131010A", "", "013101000"} {
		_, err := c.Quote(context.Background(), "01310100", bad, 100, Dimensions{}, nil)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
		_, err = c.Quote(context.Background(), bad, "01310100", 100, Dimensions{}, nil)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
	assert.False(t, called)
}

func TestQuote_NonPositiveCarrierAnswerIsEstimated(t *testing.T) {
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		if req.Service == ServicePAC {
			return CarrierRate{Price: decimal.Zero, ETADays: 5}, nil
		}
		return CarrierRate{Price: decimal.NewFromInt(30), ETADays: 0}, nil
	})
	opts, err := newTestClient(carrier, time.Second).
		Quote(context.Background(), "01310100", "30140071", 800, Dimensions{20, 15, 10}, nil)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	for _, o := range opts {
		assert.True(t, o.IsEstimate, o.ServiceCode)
		assert.Contains(t, o.Reason, "non-positive")
	}
}

func TestQuote_CarrierBusinessErrorIsEstimated(t *testing.T) {
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		return CarrierRate{}, &CarrierError{Service: req.Service, Message: "CEP de destino nao atendido"}
	})
	opts, err := newTestClient(carrier, time.Second).
		Quote(context.Background(), "01310100", "69005000", 300, Dimensions{16, 11, 2}, []string{ServiceSEDEX})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.True(t, opts[0].IsEstimate)
	assert.Contains(t, opts[0].Reason, "nao atendido")
}

func TestQuote_AllUnknownServicesReturnFallbackPair(t *testing.T) {
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		return CarrierRate{}, errors.New("down")
	})
	opts, err := newTestClient(carrier, time.Second).
		Quote(context.Background(), "01310100", "01310200", 300, Dimensions{16, 11, 2}, []string{"99999", "88888"})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, ServicePAC, opts[0].ServiceCode)
	assert.Equal(t, ServiceSEDEX, opts[1].ServiceCode)
	for _, o := range opts {
		assert.True(t, o.IsEstimate)
		assert.Equal(t, fixedNow.Add(time.Minute), o.ExpiresAt)
	}
}

func TestQuote_DeduplicatesServices(t *testing.T) {
	var calls atomic.Int32
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		calls.Add(1)
		return CarrierRate{Price: decimal.NewFromInt(10), ETADays: 3}, nil
	})
	opts, err := newTestClient(carrier, time.Second).
		Quote(context.Background(), "01310100", "01310200", 300, Dimensions{16, 11, 2}, []string{ServicePAC, ServicePAC, " "})
	require.NoError(t, err)
	assert.Len(t, opts, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQuote_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		calls.Add(1)
		return CarrierRate{}, errors.New("503")
	})
	c := NewRateClient(carrier, Config{Timeout: time.Second, BreakerFailures: 2, BreakerCooldown: time.Hour}, nil)

	for i := 0; i < 4; i++ {
		opts, err := c.Quote(context.Background(), "01310100", "01310200", 300, Dimensions{16, 11, 2}, []string{ServicePAC})
		require.NoError(t, err)
		require.Len(t, opts, 1)
		assert.True(t, opts[0].IsEstimate)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestQuote_BusinessErrorsDoNotOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		calls.Add(1)
		if req.DestCEP == "69900000" {
			return CarrierRate{}, &CarrierError{Service: req.Service, Message: "destination not served"}
		}
		return CarrierRate{Price: decimal.RequireFromString("15.50"), ETADays: 8}, nil
	})
	c := NewRateClient(carrier, Config{Timeout: time.Second, BreakerFailures: 2, BreakerCooldown: time.Hour}, nil)

	for i := 0; i < 5; i++ {
		opts, err := c.Quote(context.Background(), "01310100", "69900000", 300, Dimensions{16, 11, 2}, []string{ServicePAC})
		require.NoError(t, err)
		require.Len(t, opts, 1)
		assert.True(t, opts[0].IsEstimate)
	}

	opts, err := c.Quote(context.Background(), "01310100", "20040020", 300, Dimensions{16, 11, 2}, []string{ServicePAC})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.False(t, opts[0].IsEstimate)
	assert.Equal(t, int32(6), calls.Load())
}

func TestQuote_CancelledCallersDoNotOpenBreaker(t *testing.T) {
	carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
		if err := ctx.Err(); err != nil {
			return CarrierRate{}, err
		}
		return CarrierRate{Price: decimal.RequireFromString("15.50"), ETADays: 8}, nil
	})
	c := NewRateClient(carrier, Config{Timeout: time.Second, BreakerFailures: 2, BreakerCooldown: time.Hour}, nil)

	gone, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := c.Quote(gone, "01310100", "20040020", 300, Dimensions{16, 11, 2}, []string{ServicePAC})
		require.NoError(t, err)
	}

	opts, err := c.Quote(context.Background(), "01310100", "20040020", 300, Dimensions{16, 11, 2}, []string{ServicePAC})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.False(t, opts[0].IsEstimate)
}

func TestQuote_ServerErrorsAndTimeoutsOpenBreaker(t *testing.T) {
	for name, fail := range map[string]func(ctx context.Context) error{
		"5xx": func(context.Context) error { return &CarrierError{StatusCode: 502, Message: "bad gateway"} },
		"timeout": func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	} {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			carrier := CarrierFunc(func(ctx context.Context, req RateRequest) (CarrierRate, error) {
				calls.Add(1)
				return CarrierRate{}, fail(ctx)
			})
			c := NewRateClient(carrier, Config{Timeout: 20 * time.Millisecond, BreakerFailures: 2, BreakerCooldown: time.Hour}, nil)
			for i := 0; i < 4; i++ {
				_, err := c.Quote(context.Background(), "01310100", "20040020", 300, Dimensions{16, 11, 2}, []string{ServicePAC})
				require.NoError(t, err)
			}
			assert.Equal(t, int32(2), calls.Load())
		})
	}
}
