// Package reconcile drives payment intents to a terminal status and applies the
// consequences to the order and its stock.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/stock"
)

// ErrReconciliationConflict marks a terminal status arriving after a different
// terminal status was already applied. It is logged, never returned to callers.
var ErrReconciliationConflict = errors.New("reconcile: intent already finalised with a different status")

type Source string

const (
	SourceWebhook   Source = "webhook"
	SourcePoll      Source = "poll"
	SourceReconcile Source = "reconcile"
	SourceSweeper   Source = "sweeper"
)

// OrderStore is the slice of order persistence the reconciler writes to.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (orders.Order, error)
	Items(ctx context.Context, orderID string) ([]orders.OrderItem, error)
	Transition(ctx context.Context, orderID string, to orders.Status) (bool, error)
	FlagReview(ctx context.Context, orderID string) error
}

type StockLedger interface {
	DecrementOrder(ctx context.Context, orderID string, lines []stock.Line) (stock.Result, error)
}

type StatusInvalidator interface {
	Invalidate(ctx context.Context, orderID string) error
}

// Outcome reports what one Apply call did.
type Outcome struct {
	Intent       payments.PaymentIntent
	Changed      bool
	OrderChanged bool
	StockApplied bool
	Shortages    []stock.Shortage
	Conflict     bool
}

type Reconciler struct {
	intents   payments.IntentStore
	provider  payments.Provider
	orders    OrderStore
	ledger    StockLedger
	publisher orders.Publisher
	cache     StatusInvalidator
	service   string
	log       *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Intents   payments.IntentStore
	Provider  payments.Provider
	Orders    OrderStore
	Ledger    StockLedger
	Publisher orders.Publisher
	Cache     StatusInvalidator
	Service   string
	Logger    *zap.Logger
}

func New(d Deps) *Reconciler {
	pub := d.Publisher
	if pub == nil {
		pub = orders.NopPublisher{}
	}
	return &Reconciler{
		intents:   d.Intents,
		provider:  d.Provider,
		orders:    d.Orders,
		ledger:    d.Ledger,
		publisher: pub,
		cache:     d.Cache,
		service:   d.Service,
		log:       observability.OrNop(d.Logger),
		now:       time.Now,
	}
}

// OrderStatusFor maps a terminal payment status to the order status it produces.
func OrderStatusFor(s payments.Status) (orders.Status, bool) {
	switch s {
	case payments.StatusApproved:
		return orders.StatusPaid, true
	case payments.StatusRejected:
		return orders.StatusFailed, true
	case payments.StatusCancelled, payments.StatusExpired:
		return orders.StatusCancelled, true
	}
	return "", false
}

// Apply is the single entry point for every observed payment status. It is
// idempotent: repeating a status is a no-op, and once a terminal status is stored
// any other status is ignored. Re-applying the stored terminal status re-runs the
// order and stock steps, which are themselves guarded, so a crash between the
// status write and those steps heals on the next observation.
func (r *Reconciler) Apply(ctx context.Context, intentID string, observed payments.Status, src Source) (Outcome, error) {
	if !observed.Valid() {
		return Outcome{}, fmt.Errorf("reconcile: unknown status %q", observed)
	}
	intent, err := r.intents.ByID(ctx, intentID)
	if err != nil {
		return Outcome{}, err
	}
	log := r.log.With(
		zap.String("intent_id", intent.ID),
		zap.String("order_id", intent.OrderID),
		zap.String("source", string(src)))

	out := Outcome{Intent: intent}
	if intent.Status.Terminal() {
		if observed != intent.Status && observed.Terminal() {
			return r.conflict(ctx, log, out, observed)
		}
		if observed != intent.Status {
			return out, nil
		}
		return r.finalize(ctx, log, out)
	}
	if observed == intent.Status || observed == payments.StatusCreated {
		return out, nil
	}

	next, changed, err := r.intents.Transition(ctx, intent.ID, observed, r.now().UTC())
	if err != nil {
		return Outcome{}, fmt.Errorf("transition intent %s: %w", intent.ID, err)
	}
	out.Intent = next
	if !changed {
		// lost a race; whatever won is already stored
		if next.Status.Terminal() && next.Status != observed && observed.Terminal() {
			return r.conflict(ctx, log, out, observed)
		}
		return out, nil
	}
	out.Changed = true
	log.Info("payment status changed", zap.String("from", string(intent.Status)), zap.String("to", string(next.Status)))
	r.publish(ctx, log, orders.TopicPaymentStatus, intent.OrderID, orders.EventPaymentStatusChanged, orders.PaymentStatusChangedPayload{
		OrderID:   intent.OrderID,
		PaymentID: intent.ID,
		From:      string(intent.Status),
		To:        string(next.Status),
		Source:    string(src),
	})

	if !next.Status.Terminal() {
		return out, nil
	}
	return r.finalize(ctx, log, out)
}

// conflict records a terminal status that lost to the stored one. The stored
// status stands, but a late approval means money may have been captured for an
// order that is not paid, so the order is flagged for manual review.
func (r *Reconciler) conflict(ctx context.Context, log *zap.Logger, out Outcome, observed payments.Status) (Outcome, error) {
	log.Warn("terminal status ignored",
		zap.String("stored", string(out.Intent.Status)),
		zap.String("observed", string(observed)),
		zap.Error(ErrReconciliationConflict))
	out.Conflict = true
	if observed != payments.StatusApproved {
		return out, nil
	}
	if err := r.orders.FlagReview(ctx, out.Intent.OrderID); err != nil {
		return out, fmt.Errorf("flag order %s for review: %w", out.Intent.OrderID, err)
	}
	log.Error("approval after terminal status, order flagged for review")
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, out.Intent.OrderID); err != nil {
			log.Warn("invalidate order status cache", zap.Error(err))
		}
	}
	return out, nil
}

func (r *Reconciler) finalize(ctx context.Context, log *zap.Logger, out Outcome) (Outcome, error) {
	intent := out.Intent
	target, _ := OrderStatusFor(intent.Status)

	if intent.Status == payments.StatusApproved {
		items, err := r.orders.Items(ctx, intent.OrderID)
		if err != nil {
			return out, fmt.Errorf("load order items: %w", err)
		}
		lines := make([]stock.Line, 0, len(items))
		for _, it := range items {
			lines = append(lines, stock.Line{ProductID: it.ProductID, Qty: it.Qty})
		}
		res, err := r.ledger.DecrementOrder(ctx, intent.OrderID, lines)
		if err != nil {
			return out, err
		}
		out.StockApplied = res.Applied
		out.Shortages = res.Shortages
		if res.Applied && len(res.Shortages) > 0 {
			details := make([]orders.StockShortageDetail, 0, len(res.Shortages))
			for _, s := range res.Shortages {
				details = append(details, orders.StockShortageDetail{ProductID: s.ProductID, Requested: s.Requested, Available: s.Available})
			}
			r.publish(ctx, log, orders.TopicStockShortage, intent.OrderID, orders.EventStockShortage, orders.StockShortagePayload{
				OrderID: intent.OrderID,
				Details: details,
			})
		}
	}

	changed, err := r.orders.Transition(ctx, intent.OrderID, target)
	if err != nil {
		return out, fmt.Errorf("transition order %s: %w", intent.OrderID, err)
	}
	if !changed {
		return out, nil
	}
	out.OrderChanged = true
	log.Info("order finalised", zap.String("status", string(target)))

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, intent.OrderID); err != nil {
			log.Warn("invalidate order status cache", zap.Error(err))
		}
	}
	if target == orders.StatusPaid {
		r.publish(ctx, log, orders.TopicOrderPaid, intent.OrderID, orders.EventOrderPaid, orders.OrderPaidPayload{
			OrderID:     intent.OrderID,
			PaymentID:   intent.ID,
			AmountCents: intent.AmountCents,
		})
	}
	fin := orders.OrderFinalizedPayload{OrderID: intent.OrderID, FinalStatus: string(target)}
	if target != orders.StatusPaid {
		fin.Reasons = []string{string(intent.Status)}
	}
	r.publish(ctx, log, orders.TopicOrderFinalized, intent.OrderID, orders.EventOrderFinalized, fin)
	return out, nil
}

// Resolve asks the provider for the intent's current status and applies it.
func (r *Reconciler) Resolve(ctx context.Context, intentID string, src Source) (Outcome, error) {
	intent, err := r.intents.ByID(ctx, intentID)
	if err != nil {
		return Outcome{}, err
	}
	pp, err := r.provider.LookupPayment(ctx, intent.ExternalID)
	if err != nil {
		return Outcome{Intent: intent}, fmt.Errorf("lookup payment %s: %w", intent.ExternalID, err)
	}
	return r.Apply(ctx, intent.ID, pp.Status, src)
}

// ResolveExternal is Resolve keyed by the provider's payment id, as webhooks carry it.
func (r *Reconciler) ResolveExternal(ctx context.Context, externalID string, src Source) (Outcome, error) {
	intent, err := r.intents.ByExternalID(ctx, externalID)
	if err != nil {
		return Outcome{}, err
	}
	return r.Resolve(ctx, intent.ID, src)
}

func (r *Reconciler) publish(ctx context.Context, log *zap.Logger, topic, orderID, eventType string, payload any) {
	ev, err := orders.NewEnvelope(eventType, r.service, orderID, payload)
	if err != nil {
		log.Error("build event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := r.publisher.Publish(ctx, topic, orders.PartitionKey(orderID), ev); err != nil {
		log.Warn("publish event", zap.String("event_type", eventType), zap.Error(err))
	}
}
