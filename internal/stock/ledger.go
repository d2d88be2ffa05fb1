// Package stock applies the authoritative inventory decrement for approved orders.
package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
)

var ErrStockShortage = errors.New("stock: insufficient stock")

type Line struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// Shortage is a line that could not be decremented because stock ran out between
// checkout and approval.
type Shortage struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type Result struct {
	// Applied is true only for the call that claimed the order's decrement record.
	Applied   bool
	Shortages []Shortage
}

// Err returns ErrStockShortage wrapped with the affected products, or nil.
func (r Result) Err() error {
	if len(r.Shortages) == 0 {
		return nil
	}
	ids := make([]string, len(r.Shortages))
	for i, s := range r.Shortages {
		ids[i] = s.ProductID
	}
	return fmt.Errorf("%w: %v", ErrStockShortage, ids)
}

// Store claims the per-order decrement record and decrements all lines atomically.
// A second call for the same order returns Applied=false and touches nothing.
type Store interface {
	ApplyDecrement(ctx context.Context, orderID string, lines []Line) (Result, error)
}

type Ledger struct {
	store Store
	log   *zap.Logger
}

func NewLedger(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, log: observability.OrNop(logger)}
}

func (l *Ledger) Decrement(ctx context.Context, orderID, productID string, qty int) (Result, error) {
	return l.DecrementOrder(ctx, orderID, []Line{{ProductID: productID, Qty: qty}})
}

// DecrementOrder decrements every line of the order exactly once. Lines for the same
// product are merged and applied in product order so concurrent orders lock rows in
// the same sequence.
func (l *Ledger) DecrementOrder(ctx context.Context, orderID string, lines []Line) (Result, error) {
	if orderID == "" {
		return Result{}, errors.New("stock: order id is required")
	}
	merged, err := mergeLines(lines)
	if err != nil {
		return Result{}, err
	}

	res, err := l.store.ApplyDecrement(ctx, orderID, merged)
	if err != nil {
		return Result{}, fmt.Errorf("apply decrement for order %s: %w", orderID, err)
	}
	switch {
	case !res.Applied:
		l.log.Info("stock decrement already applied", zap.String("order_id", orderID))
	case len(res.Shortages) > 0:
		l.log.Warn("stock shortage at decrement",
			zap.String("order_id", orderID),
			zap.Any("shortages", res.Shortages))
	default:
		l.log.Info("stock decremented", zap.String("order_id", orderID), zap.Int("lines", len(merged)))
	}
	return res, nil
}

func mergeLines(lines []Line) ([]Line, error) {
	qty := make(map[string]int, len(lines))
	for _, ln := range lines {
		if ln.ProductID == "" || ln.Qty <= 0 {
			return nil, fmt.Errorf("stock: invalid line %+v", ln)
		}
		qty[ln.ProductID] += ln.Qty
	}
	out := make([]Line, 0, len(qty))
	for id, q := range qty {
		out = append(out, Line{ProductID: id, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
