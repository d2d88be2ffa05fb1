package reconcile

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
)

const watcherConsumer = "payment-watcher"

type Deduper interface {
	Claim(ctx context.Context, consumer, eventID string) (bool, error)
	Forget(ctx context.Context, consumer, eventID string) error
}

type watcher interface {
	Watch(ctx context.Context, intentID string) (payments.Status, error)
}

// Watcher starts polling for every created payment. It is installed as the
// handler of the payment.created consumer.
type Watcher struct {
	poller watcher
	dedup  Deduper // optional
	log    *zap.Logger
}

func NewWatcher(poller *Poller, dedup Deduper, logger *zap.Logger) *Watcher {
	return &Watcher{poller: poller, dedup: dedup, log: observability.OrNop(logger)}
}

func (w *Watcher) HandlePaymentCreated(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// poison message, nothing to retry
		w.log.Warn("drop undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventPaymentCreated {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.PaymentCreatedPayload](env.Payload)
	if err != nil || p.PaymentID == "" {
		w.log.Warn("drop malformed payment.created", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if w.dedup != nil {
		first, err := w.dedup.Claim(ctx, watcherConsumer, env.EventID)
		if err != nil {
			w.log.Warn("dedup unavailable, processing anyway", zap.Error(err))
		} else if !first {
			return nil
		}
	}

	log := w.log.With(zap.String("intent_id", p.PaymentID), zap.String("order_id", p.OrderID))
	status, err := w.poller.Watch(ctx, p.PaymentID)
	switch {
	case err == nil:
		log.Debug("payment watched to completion", zap.String("status", string(status)))
		return nil
	case errors.Is(err, ErrPollExhausted), errors.Is(err, payments.ErrNotFound):
		// the sweeper and late webhooks take it from here
		return nil
	default:
		if w.dedup != nil {
			if ferr := w.dedup.Forget(context.WithoutCancel(ctx), watcherConsumer, env.EventID); ferr != nil {
				log.Warn("dedup forget failed", zap.Error(ferr))
			}
		}
		return err
	}
}
