package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/reconcile"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
	"github.com/ariefcatur/go-order-fulfillment/internal/stock"
)

type fakeProvider struct {
	creates atomic.Int32
	status  atomic.Value // payments.Status
}

func (p *fakeProvider) CreatePayment(_ context.Context, req payments.ProviderRequest) (payments.ProviderPayment, error) {
	p.creates.Add(1)
	time.Sleep(20 * time.Millisecond)
	return payments.ProviderPayment{ExternalID: "pi_" + req.IdempotencyKey, Status: payments.StatusPending, AmountCents: req.AmountCents}, nil
}

func (p *fakeProvider) LookupPayment(_ context.Context, externalID string) (payments.ProviderPayment, error) {
	s, _ := p.status.Load().(payments.Status)
	if s == "" {
		s = payments.StatusPending
	}
	return payments.ProviderPayment{ExternalID: externalID, Status: s}, nil
}

type countingPublisher struct {
	mu     sync.Mutex
	counts map[string]int
}

func (p *countingPublisher) Publish(_ context.Context, _ string, _ []byte, ev orders.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts == nil {
		p.counts = map[string]int{}
	}
	p.counts[ev.EventType]++
	return nil
}

type harness struct {
	svc      *Service
	repo     *orders.MemoryRepo
	intents  *payments.MemoryStore
	provider *fakeProvider
	stock    *stock.MemoryStore
	rec      *reconcile.Reconciler
	carrier  atomic.Int32
	pub      *countingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo: orders.NewMemoryRepo(
			orders.Product{ID: "mug", SKU: "MUG", PriceCents: 4500, Stock: 10, WeightG: 200, LengthCM: 20, WidthCM: 15, HeightCM: 4},
			orders.Product{ID: "lamp", SKU: "LAMP", PriceCents: 12000, Stock: 5, WeightG: 600, LengthCM: 25, WidthCM: 20, HeightCM: 8},
		),
		intents:  payments.NewMemoryStore(),
		provider: &fakeProvider{},
		stock:    stock.NewMemoryStore(map[string]int{"mug": 10, "lamp": 5}),
		pub:      &countingPublisher{},
	}
	carrier := shipping.CarrierFunc(func(ctx context.Context, req shipping.RateRequest) (shipping.CarrierRate, error) {
		h.carrier.Add(1)
		switch req.Service {
		case shipping.ServicePAC:
			return shipping.CarrierRate{Price: decimal.RequireFromString("15.50"), ETADays: 8}, nil
		case shipping.ServiceSEDEX:
			<-ctx.Done()
			return shipping.CarrierRate{}, ctx.Err()
		}
		return shipping.CarrierRate{}, &shipping.CarrierError{Service: req.Service, StatusCode: 400, Message: "unknown service"}
	})
	rates := shipping.NewRateClient(carrier, shipping.Config{Timeout: 30 * time.Millisecond}, nil)
	quotes := shipping.NewQuoteCache(shipping.NewMemoryQuoteStore(), rates, "01310100", nil)
	gw := payments.NewGateway(h.provider, h.intents, payments.NewMemoryLocker(), payments.GatewayConfig{WaitInterval: 5 * time.Millisecond}, nil)

	h.svc = NewService(h.repo, h.repo, quotes, gw, h.pub, Config{Currency: "brl", Service: "test"}, nil)
	h.rec = reconcile.New(reconcile.Deps{
		Intents:  h.intents,
		Provider: h.provider,
		Orders:   h.repo,
		Ledger:   stock.NewLedger(h.stock, nil),
	})
	return h
}

func cartItems() []orders.ItemInput {
	return []orders.ItemInput{{ProductID: "mug", Qty: 2}, {ProductID: "lamp", Qty: 1}}
}

func checkoutReq() Request {
	return Request{
		IdempotencyKey:  "abc123",
		UserID:          "u1",
		DestCEP:         "20040-020",
		Items:           cartItems(),
		ShippingService: shipping.ServicePAC,
		Method:          payments.MethodCard,
		Payer:           payments.Payer{Email: "ana@example.com", Name: "Ana"},
	}
}

func TestQuote_RealPACAndEstimatedSEDEX(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Quote(context.Background(), "u1", "20040-020", cartItems(), nil)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, 1000, res.Quote.Package.TotalWeightG)

	pac, ok := res.Quote.Option(shipping.ServicePAC)
	require.True(t, ok)
	assert.False(t, pac.IsEstimate)
	sedex, ok := res.Quote.Option(shipping.ServiceSEDEX)
	require.True(t, ok)
	assert.True(t, sedex.IsEstimate)

	res, err = h.svc.Quote(context.Background(), "u1", "20040-020", cartItems(), nil)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, int32(2), h.carrier.Load())
}

func TestQuote_EmptyCart(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Quote(context.Background(), "u1", "20040020", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, int32(0), h.carrier.Load())
}

func TestQuote_UnknownProduct(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Quote(context.Background(), "u1", "20040020", []orders.ItemInput{{ProductID: "nope", Qty: 1}}, nil)
	assert.ErrorIs(t, err, orders.ErrProductNotFound)
}

func TestCheckout_ConcurrentSameKeyOneIntentOneDecrement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	results := make([]Result, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Checkout(ctx, checkoutReq())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].Order.ID, results[1].Order.ID)
	assert.Equal(t, results[0].Intent.ID, results[1].Intent.ID)
	assert.Equal(t, int32(1), h.provider.creates.Load())

	order := results[0].Order
	assert.Equal(t, int64(2*4500+12000), order.ItemsCents)
	assert.Equal(t, int64(1550), order.ShippingCents)
	assert.Equal(t, int64(2*4500+12000+1550), order.TotalCents)
	assert.Equal(t, order.TotalCents, results[0].Intent.AmountCents)

	h.provider.status.Store(payments.StatusApproved)
	for i := 0; i < 3; i++ {
		_, err := h.rec.Resolve(ctx, results[0].Intent.ID, reconcile.SourcePoll)
		require.NoError(t, err)
		_, err = h.rec.Apply(ctx, results[0].Intent.ID, payments.StatusApproved, reconcile.SourceWebhook)
		require.NoError(t, err)
	}

	assert.Equal(t, 8, h.stock.Level("mug"))
	assert.Equal(t, 4, h.stock.Level("lamp"))
	got, err := h.repo.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.Equal(t, results[0].Intent.ID, got.PaymentID)
}

func TestCheckout_RejectedPaymentFailsOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Checkout(ctx, checkoutReq())
	require.NoError(t, err)
	assert.Equal(t, 1, h.pub.counts[orders.EventOrderCreated])
	assert.Equal(t, 1, h.pub.counts[orders.EventPaymentCreated])

	_, err = h.rec.Apply(ctx, res.Intent.ID, payments.StatusPending, reconcile.SourcePoll)
	require.NoError(t, err)
	_, err = h.rec.Apply(ctx, res.Intent.ID, payments.StatusRejected, reconcile.SourceWebhook)
	require.NoError(t, err)

	got, _ := h.repo.Get(ctx, res.Order.ID)
	assert.Equal(t, orders.StatusFailed, got.Status)
	assert.Equal(t, 10, h.stock.Level("mug"))
}

func TestCheckout_AdvisoryStockCheck(t *testing.T) {
	h := newHarness(t)
	req := checkoutReq()
	req.Items = []orders.ItemInput{{ProductID: "lamp", Qty: 6}}

	_, err := h.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, int32(0), h.provider.creates.Load())
}

func TestCheckout_UnquotedService(t *testing.T) {
	h := newHarness(t)
	req := checkoutReq()
	req.ShippingService = "99999"

	_, err := h.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, ErrShippingUnavailable)
}

func TestCheckout_InvalidPayerCreatesNoIntent(t *testing.T) {
	h := newHarness(t)
	req := checkoutReq()
	req.Payer.Email = "nope"

	_, err := h.svc.Checkout(context.Background(), req)
	var ve *payments.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, int32(0), h.provider.creates.Load())
}
