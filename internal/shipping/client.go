package shipping

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/task"
)

type Config struct {
	// Timeout bounds each service's carrier call independently.
	Timeout     time.Duration
	QuoteTTL    time.Duration
	EstimateTTL time.Duration
	// BreakerFailures consecutive failures open a service's breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 6 * time.Second
	}
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 5 * time.Minute
	}
	if c.EstimateTTL <= 0 || c.EstimateTTL >= c.QuoteTTL {
		c.EstimateTTL = min(time.Minute, c.QuoteTTL/2)
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// RateClient prices a parcel for several carrier services concurrently. A service
// that fails or times out degrades to a local estimate without affecting the others.
type RateClient struct {
	carrier Carrier
	cfg     Config
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[CarrierRate]
}

type RateClientOption func(*RateClient)

// WithClock overrides time.Now, used for option expiry.
func WithClock(now func() time.Time) RateClientOption {
	return func(c *RateClient) { c.now = now }
}

func NewRateClient(carrier Carrier, cfg Config, logger *zap.Logger, opts ...RateClientOption) *RateClient {
	c := &RateClient{
		carrier:  carrier,
		cfg:      cfg.withDefaults(),
		log:      observability.OrNop(logger),
		now:      time.Now,
		breakers: make(map[string]*gobreaker.CircuitBreaker[CarrierRate]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeCEP strips separators and checks the result is 8 digits.
func NormalizeCEP(cep string) (string, error) {
	s := strings.NewReplacer("-", "", ".", "", " ", "").Replace(strings.TrimSpace(cep))
	if len(s) != 8 {
		return "", fmt.Errorf("%w: cep %q must have 8 digits", ErrInvalidAddress, cep)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: cep %q must have 8 digits", ErrInvalidAddress, cep)
		}
	}
	return s, nil
}

// CallTimeout bounds one Quote: services are priced concurrently, each under it.
func (c *RateClient) CallTimeout() time.Duration { return c.cfg.Timeout }

// Quote returns one option per requested service, carrier-sourced where possible and
// estimated otherwise. Only ErrInvalidAddress is returned as an error; when nothing
// could be priced the fixed fallback pair is returned.
func (c *RateClient) Quote(ctx context.Context, originCEP, destCEP string, weightG int, dims Dimensions, services []string) ([]Option, error) {
	origin, err := NormalizeCEP(originCEP)
	if err != nil {
		return nil, err
	}
	dest, err := NormalizeCEP(destCEP)
	if err != nil {
		return nil, err
	}
	services = uniqueServices(services)

	results := make([]*Option, len(services))
	var g errgroup.Group
	for i, svc := range services {
		g.Go(func() error {
			opt, ok := c.quoteService(ctx, RateRequest{
				Service:   svc,
				OriginCEP: origin,
				DestCEP:   dest,
				WeightG:   weightG,
				Dims:      dims,
			})
			if ok {
				results[i] = &opt
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Option, 0, len(services))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if len(out) == 0 {
		c.log.Warn("no shipping option could be priced, using fallback pair",
			zap.String("origin", origin), zap.String("dest", dest), zap.Strings("services", services))
		return FallbackOptions(c.now().Add(c.cfg.EstimateTTL)), nil
	}
	return out, nil
}

func (c *RateClient) quoteService(ctx context.Context, req RateRequest) (Option, bool) {
	rate, err := c.breaker(req.Service).Execute(func() (CarrierRate, error) {
		return task.Run(ctx, c.cfg.Timeout, func(ctx context.Context) (CarrierRate, error) {
			r, err := c.carrier.Rate(ctx, req)
			if err != nil {
				return CarrierRate{}, err
			}
			if !r.Price.IsPositive() || r.ETADays <= 0 {
				return CarrierRate{}, &CarrierError{
					Service: req.Service,
					Message: fmt.Sprintf("non-positive price %s or eta %d", r.Price, r.ETADays),
				}
			}
			return r, nil
		})
	})
	if err == nil {
		return Option{
			ServiceCode: req.Service,
			ServiceName: ServiceName(req.Service),
			Price:       rate.Price.Round(2),
			ETADays:     rate.ETADays,
			ExpiresAt:   c.now().Add(c.cfg.QuoteTTL),
		}, true
	}

	reason := degradeReason(err)
	c.log.Info("carrier quote degraded to estimate",
		zap.String("service", req.Service), zap.String("reason", reason), zap.Error(err))

	opt, estErr := estimate(req.Service, req.OriginCEP, req.DestCEP, req.WeightG, reason, c.now().Add(c.cfg.EstimateTTL))
	if estErr != nil {
		c.log.Warn("cannot estimate service", zap.String("service", req.Service), zap.Error(estErr))
		return Option{}, false
	}
	return opt, true
}

func degradeReason(err error) string {
	var ce *CarrierError
	switch {
	case errors.Is(err, task.ErrTimeout):
		return "estimated: " + ErrCarrierTimeout.Error()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "estimated: carrier temporarily unavailable"
	case errors.As(err, &ce):
		return "estimated: " + ce.Message
	default:
		return "estimated: carrier request failed"
	}
}

func (c *RateClient) breaker(service string) *gobreaker.CircuitBreaker[CarrierRate] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[service]; ok {
		return cb
	}
	failures := c.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[CarrierRate](gobreaker.Settings{
		Name:    "carrier-" + service,
		Timeout: c.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool { return !carrierUnhealthy(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("carrier breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	c.breakers[service] = cb
	return cb
}

// carrierUnhealthy reports whether err says something about the carrier itself.
// Route specific business errors and callers giving up do not.
func carrierUnhealthy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, task.ErrTimeout) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ce *CarrierError
	if errors.As(err, &ce) {
		return ce.StatusCode >= http.StatusInternalServerError || ce.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func uniqueServices(in []string) []string {
	if len(in) == 0 {
		return append([]string(nil), DefaultServices...)
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultServices...)
	}
	return out
}
