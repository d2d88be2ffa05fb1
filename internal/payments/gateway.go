package payments

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/task"
)

type GatewayConfig struct {
	// Window is how long an idempotency key maps to its intent.
	Window        time.Duration
	CreateTimeout time.Duration
	// WaitTimeout bounds how long a concurrent duplicate waits for the winner.
	WaitTimeout  time.Duration
	WaitInterval time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = 15 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = c.CreateTimeout + 5*time.Second
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = 100 * time.Millisecond
	}
	return c
}

// Gateway creates payment intents at the provider, at most once per idempotency key.
type Gateway struct {
	provider Provider
	store    IntentStore
	locker   Locker
	cfg      GatewayConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewGateway(provider Provider, store IntentStore, locker Locker, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	return &Gateway{
		provider: provider,
		store:    store,
		locker:   locker,
		cfg:      cfg.withDefaults(),
		log:      observability.OrNop(logger),
		now:      time.Now,
	}
}

// MaxCreateDuration is the longest Create can take: a duplicate waits up to
// WaitTimeout and may then win the lock and call the provider itself.
func (g *Gateway) MaxCreateDuration() time.Duration {
	return g.cfg.WaitTimeout + g.cfg.CreateTimeout
}

// Create returns the intent for key, creating it at the provider only if no intent
// exists for the key within the validity window.
func (g *Gateway) Create(ctx context.Context, order OrderSnapshot, key string) (PaymentIntent, error) {
	key = strings.TrimSpace(key)
	if err := validate(order, key); err != nil {
		return PaymentIntent{}, err
	}

	deadline := g.now().Add(g.cfg.WaitTimeout)
	for {
		existing, err := g.existing(ctx, order, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return PaymentIntent{}, err
		}

		token := uuid.NewString()
		ok, err := g.locker.Acquire(ctx, key, token)
		if err != nil {
			return PaymentIntent{}, fmt.Errorf("acquire idempotency lock: %w", err)
		}
		if ok {
			return g.createLocked(ctx, order, key, token)
		}

		if g.now().After(deadline) {
			return PaymentIntent{}, ErrInProgress
		}
		select {
		case <-ctx.Done():
			return PaymentIntent{}, ctx.Err()
		case <-time.After(g.cfg.WaitInterval):
		}
	}
}

func (g *Gateway) createLocked(ctx context.Context, order OrderSnapshot, key, token string) (PaymentIntent, error) {
	defer func() {
		if err := g.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			g.log.Warn("release idempotency lock", zap.String("key", key), zap.Error(err))
		}
	}()

	// the previous holder may have finished between our lookup and acquire
	if existing, err := g.existing(ctx, order, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return PaymentIntent{}, err
	}

	currency := strings.ToLower(order.Currency)
	pp, err := task.Run(ctx, g.cfg.CreateTimeout, func(ctx context.Context) (ProviderPayment, error) {
		return g.provider.CreatePayment(ctx, ProviderRequest{
			IdempotencyKey: key,
			OrderID:        order.OrderID,
			AmountCents:    order.AmountCents,
			Currency:       currency,
			Method:         order.Method,
			Payer:          order.Payer,
			Description:    order.Description,
		})
	})
	if err != nil {
		var ge *GatewayError
		if errors.As(err, &ge) {
			g.log.Info("provider rejected payment", zap.String("order_id", order.OrderID), zap.String("code", ge.Code))
			return PaymentIntent{}, err
		}
		if errors.Is(err, task.ErrTimeout) {
			return PaymentIntent{}, &GatewayError{Code: "timeout", Message: "payment provider did not answer in time", Err: err}
		}
		return PaymentIntent{}, &GatewayError{Code: "unavailable", Message: "payment provider request failed", Err: err}
	}
	if pp.ExternalID == "" {
		return PaymentIntent{}, &GatewayError{Code: "invalid_response", Message: "provider returned no payment id"}
	}

	now := g.now().UTC()
	intent := PaymentIntent{
		ID:             uuid.NewString(),
		ExternalID:     pp.ExternalID,
		IdempotencyKey: key,
		OrderID:        order.OrderID,
		AmountCents:    order.AmountCents,
		Currency:       currency,
		Method:         order.Method,
		Status:         StatusCreated,
		ClientSecret:   pp.ClientSecret,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := g.store.Create(ctx, intent, now.Add(-g.cfg.Window)); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return g.existing(ctx, order, key)
		}
		return PaymentIntent{}, fmt.Errorf("store payment intent: %w", err)
	}
	g.log.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("external_id", intent.ExternalID),
		zap.String("order_id", intent.OrderID),
		zap.Int64("amount_cents", intent.AmountCents))
	return intent, nil
}

func (g *Gateway) existing(ctx context.Context, order OrderSnapshot, key string) (PaymentIntent, error) {
	p, err := g.store.ByKey(ctx, key, g.now().Add(-g.cfg.Window))
	if err != nil {
		return PaymentIntent{}, err
	}
	if p.OrderID != order.OrderID || p.AmountCents != order.AmountCents {
		return PaymentIntent{}, ErrKeyConflict
	}
	return p, nil
}

func validate(o OrderSnapshot, key string) error {
	switch {
	case key == "":
		return &ValidationError{Field: "idempotency_key", Reason: "is required"}
	case len(key) > 255:
		return &ValidationError{Field: "idempotency_key", Reason: "is too long"}
	case o.OrderID == "":
		return &ValidationError{Field: "order_id", Reason: "is required"}
	case o.AmountCents <= 0:
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	case len(o.Currency) != 3:
		return &ValidationError{Field: "currency", Reason: "must be an ISO 4217 code"}
	case !o.Method.Valid():
		return &ValidationError{Field: "method", Reason: fmt.Sprintf("%q is not supported", o.Method)}
	}
	if _, err := mail.ParseAddress(o.Payer.Email); err != nil || !strings.Contains(o.Payer.Email, "@") {
		return &ValidationError{Field: "payer.email", Reason: "is invalid"}
	}
	if o.Method == MethodPix || o.Method == MethodBoleto {
		if !validDocument(o.Payer.Document) {
			return &ValidationError{Field: "payer.document", Reason: "must be a CPF or CNPJ"}
		}
	}
	return nil
}

func validDocument(doc string) bool {
	digits := 0
	for _, r := range doc {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == '-' || r == '/':
		default:
			return false
		}
	}
	return digits == 11 || digits == 14
}
