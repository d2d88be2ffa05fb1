package shipping

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-order-fulfillment/internal/cart"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
)

// QuoteStore persists cached quotes. Get returns ErrCacheMiss when nothing is stored.
type QuoteStore interface {
	Get(ctx context.Context, key string) (Quote, error)
	Set(ctx context.Context, key string, q Quote, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Quoter is the rate lookup behind the cache; *RateClient implements it.
type Quoter interface {
	Quote(ctx context.Context, originCEP, destCEP string, weightG int, dims Dimensions, services []string) ([]Option, error)
}

// QuoteRequest identifies a cart to be priced.
type QuoteRequest struct {
	UserID   string
	DestCEP  string
	Items    []cart.LineItem
	Services []string
}

// QuoteCache is a read-through cache in front of a Quoter. Entries are trusted until
// the earliest option expiry and evicted lazily when a read finds them stale.
type QuoteCache struct {
	store  QuoteStore
	quoter Quoter
	origin string
	log    *zap.Logger
	now    func() time.Time
	sf     singleflight.Group
}

func NewQuoteCache(store QuoteStore, quoter Quoter, originCEP string, logger *zap.Logger) *QuoteCache {
	return &QuoteCache{
		store:  store,
		quoter: quoter,
		origin: originCEP,
		log:    observability.OrNop(logger),
		now:    time.Now,
	}
}

// SetClock overrides time.Now for expiry checks.
func (c *QuoteCache) SetClock(now func() time.Time) { c.now = now }

// CacheKey hashes the user, destination, requested services and the sorted
// (product, quantity) pairs. Any cart change yields a new key.
func CacheKey(userID, destCEP string, items []cart.LineItem, services []string) string {
	pairs := make([]string, 0, len(items))
	for _, it := range items {
		pairs = append(pairs, fmt.Sprintf("%s:%d", it.ProductID, it.Quantity))
	}
	sort.Strings(pairs)
	svcs := uniqueServices(services)
	sort.Strings(svcs)

	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(destCEP))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(svcs, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(pairs, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached quote for the cart or computes and stores a fresh one. The
// boolean reports a cache hit.
func (c *QuoteCache) Get(ctx context.Context, req QuoteRequest) (Quote, bool, error) {
	dest, err := NormalizeCEP(req.DestCEP)
	if err != nil {
		return Quote{}, false, err
	}
	pkg := cart.Aggregate(cart.Snapshot{UserID: req.UserID, Items: req.Items})
	if pkg.Empty() {
		return Quote{}, false, ErrEmptyCart
	}
	key := CacheKey(req.UserID, dest, req.Items, req.Services)

	if q, ok := c.lookup(ctx, key); ok {
		return q, true, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		opts, err := c.quoter.Quote(ctx, c.origin, dest, pkg.TotalWeightG, DimensionsOf(pkg), req.Services)
		if err != nil {
			return Quote{}, err
		}
		now := c.now()
		q := Quote{
			Key:         key,
			Origin:      c.origin,
			Destination: dest,
			Package:     pkg,
			Options:     opts,
			CreatedAt:   now,
			ExpiresAt:   earliestExpiry(opts),
		}
		if ttl := q.ExpiresAt.Sub(now); ttl > 0 {
			if err := c.store.Set(ctx, key, q, ttl); err != nil {
				c.log.Warn("quote cache set failed", zap.String("key", key), zap.Error(err))
			}
		}
		return q, nil
	})
	if err != nil {
		return Quote{}, false, err
	}
	return v.(Quote), false, nil
}

func (c *QuoteCache) lookup(ctx context.Context, key string) (Quote, bool) {
	q, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn("quote cache get failed", zap.String("key", key), zap.Error(err))
		}
		return Quote{}, false
	}
	if !c.now().Before(q.ExpiresAt) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Warn("quote cache evict failed", zap.String("key", key), zap.Error(err))
		}
		return Quote{}, false
	}
	return q, true
}
