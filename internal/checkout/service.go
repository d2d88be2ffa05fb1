// Package checkout ties the cart, shipping quote, order and payment intent together.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/cart"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

var (
	ErrEmptyCart           = errors.New("checkout: cart is empty")
	ErrShippingUnavailable = errors.New("checkout: shipping service not quoted")
	// ErrOutOfStock is the advisory check at checkout. The ledger decrement after
	// approval is what actually guards stock.
	ErrOutOfStock = errors.New("checkout: item unavailable")
)

type Catalog interface {
	Products(ctx context.Context, ids []string) (map[string]orders.Product, error)
}

type OrderStore interface {
	CreateOrderTx(ctx context.Context, in orders.NewOrder) (orders.Order, bool, error)
	SetPayment(ctx context.Context, orderID, paymentID string) error
}

type QuoteSource interface {
	Get(ctx context.Context, req shipping.QuoteRequest) (shipping.Quote, bool, error)
}

type PaymentCreator interface {
	Create(ctx context.Context, order payments.OrderSnapshot, key string) (payments.PaymentIntent, error)
}

type Config struct {
	Currency string
	Service  string
}

type Service struct {
	catalog   Catalog
	orders    OrderStore
	quotes    QuoteSource
	payments  PaymentCreator
	publisher orders.Publisher
	cfg       Config
	log       *zap.Logger
}

func NewService(catalog Catalog, store OrderStore, quotes QuoteSource, pay PaymentCreator, pub orders.Publisher, cfg Config, logger *zap.Logger) *Service {
	if pub == nil {
		pub = orders.NopPublisher{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "brl"
	}
	return &Service{
		catalog:   catalog,
		orders:    store,
		quotes:    quotes,
		payments:  pay,
		publisher: pub,
		cfg:       cfg,
		log:       observability.OrNop(logger),
	}
}

type QuoteResult struct {
	Quote shipping.Quote
	Hit   bool
}

// Quote prices the cart for destCEP through the quote cache.
func (s *Service) Quote(ctx context.Context, userID, destCEP string, items []orders.ItemInput, services []string) (QuoteResult, error) {
	lines, _, err := s.snapshot(ctx, items)
	if err != nil {
		return QuoteResult{}, err
	}
	if len(services) == 0 {
		services = shipping.DefaultServices
	}
	q, hit, err := s.quotes.Get(ctx, shipping.QuoteRequest{
		UserID:   userID,
		DestCEP:  destCEP,
		Items:    lines,
		Services: services,
	})
	if errors.Is(err, shipping.ErrEmptyCart) {
		return QuoteResult{}, ErrEmptyCart
	}
	if err != nil {
		return QuoteResult{}, err
	}
	return QuoteResult{Quote: q, Hit: hit}, nil
}

func (s *Service) snapshot(ctx context.Context, items []orders.ItemInput) ([]cart.LineItem, map[string]orders.Product, error) {
	if len(items) == 0 {
		return nil, nil, ErrEmptyCart
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.Qty <= 0 {
			return nil, nil, fmt.Errorf("%w for product %s", orders.ErrInvalidQty, it.ProductID)
		}
		ids = append(ids, it.ProductID)
	}
	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load products: %w", err)
	}
	lines := make([]cart.LineItem, 0, len(items))
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", orders.ErrProductNotFound, it.ProductID)
		}
		lines = append(lines, cart.LineItem{
			ProductID:   p.ID,
			Quantity:    it.Qty,
			UnitWeightG: p.WeightG,
			LengthCM:    p.LengthCM,
			WidthCM:     p.WidthCM,
			HeightCM:    p.HeightCM,
		})
	}
	return lines, products, nil
}

type Request struct {
	IdempotencyKey  string
	UserID          string
	DestCEP         string
	Items           []orders.ItemInput
	Services        []string // the list the quote was requested with
	ShippingService string
	Method          payments.Method
	Payer           payments.Payer
}

type Result struct {
	Order      orders.Order
	Intent     payments.PaymentIntent
	Shipping   shipping.Option
	Idempotent bool
}

// Checkout creates the order and its payment intent. Both are keyed by the
// idempotency key, so a retried or doubled submit converges on one order and one
// intent. A failed payment create leaves the order pending and the next retry with
// the same key picks it up.
func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return Result{}, &payments.ValidationError{Field: "idempotency_key", Reason: "is required"}
	}

	lines, products, err := s.snapshot(ctx, req.Items)
	if err != nil {
		return Result{}, err
	}
	for _, ln := range lines {
		if p := products[ln.ProductID]; p.Stock < ln.Quantity {
			return Result{}, fmt.Errorf("%w: %s", ErrOutOfStock, ln.ProductID)
		}
	}

	services := req.Services
	if len(services) == 0 {
		services = shipping.DefaultServices
	}
	if !slices.Contains(services, req.ShippingService) {
		services = append(slices.Clone(services), req.ShippingService)
	}
	q, _, err := s.quotes.Get(ctx, shipping.QuoteRequest{
		UserID:   req.UserID,
		DestCEP:  req.DestCEP,
		Items:    lines,
		Services: services,
	})
	if err != nil {
		return Result{}, err
	}
	opt, ok := q.Option(req.ShippingService)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrShippingUnavailable, req.ShippingService)
	}

	order, existed, err := s.orders.CreateOrderTx(ctx, orders.NewOrder{
		ExternalID:      key,
		UserID:          req.UserID,
		Items:           req.Items,
		DestCEP:         q.Destination,
		ShippingService: opt.ServiceCode,
		ShippingCents:   opt.Price.Shift(2).Round(0).IntPart(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("create order: %w", err)
	}
	log := s.log.With(zap.String("order_id", order.ID), zap.String("idempotency_key", key))
	if !existed {
		s.publish(ctx, log, orders.TopicOrderCreated, order.ID, orders.EventOrderCreated, orderCreated(order, req.Items, products))
	}

	intent, err := s.payments.Create(ctx, payments.OrderSnapshot{
		OrderID:     order.ID,
		UserID:      order.UserID,
		AmountCents: order.TotalCents,
		Currency:    s.cfg.Currency,
		Method:      req.Method,
		Payer:       req.Payer,
		Description: "order " + order.ID,
	}, key)
	if err != nil {
		return Result{}, err
	}

	if order.PaymentID != intent.ID {
		if err := s.orders.SetPayment(ctx, order.ID, intent.ID); err != nil {
			return Result{}, fmt.Errorf("link payment: %w", err)
		}
		order.PaymentID = intent.ID
		s.publish(ctx, log, orders.TopicPaymentCreated, order.ID, orders.EventPaymentCreated, orders.PaymentCreatedPayload{
			OrderID:     order.ID,
			PaymentID:   intent.ID,
			ExternalID:  intent.ExternalID,
			AmountCents: intent.AmountCents,
		})
	}
	log.Info("checkout accepted", zap.String("payment_id", intent.ID), zap.Bool("idempotent", existed))
	return Result{Order: order, Intent: intent, Shipping: opt, Idempotent: existed}, nil
}

func orderCreated(o orders.Order, items []orders.ItemInput, products map[string]orders.Product) orders.OrderCreatedPayload {
	out := make([]orders.ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, orders.ItemPrice{ProductID: it.ProductID, Qty: it.Qty, PriceCents: products[it.ProductID].PriceCents})
	}
	return orders.OrderCreatedPayload{
		OrderID:       o.ID,
		ExternalID:    o.ExternalID,
		UserID:        o.UserID,
		Items:         out,
		ShippingCents: o.ShippingCents,
		TotalCents:    o.TotalCents,
	}
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, topic, orderID, eventType string, payload any) {
	ev, err := orders.NewEnvelope(eventType, s.cfg.Service, orderID, payload)
	if err != nil {
		log.Error("build event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, topic, orders.PartitionKey(orderID), ev); err != nil {
		log.Warn("publish event", zap.String("event_type", eventType), zap.Error(err))
	}
}
