package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo mirrors Repo in process. Used by tests.
type MemoryRepo struct {
	mu       sync.Mutex
	products map[string]Product
	orders   map[string]*Order
	byExt    map[string]string
	items    map[string][]OrderItem
}

func NewMemoryRepo(products ...Product) *MemoryRepo {
	r := &MemoryRepo{
		products: make(map[string]Product, len(products)),
		orders:   make(map[string]*Order),
		byExt:    make(map[string]string),
		items:    make(map[string][]OrderItem),
	}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *MemoryRepo) CreateOrderTx(_ context.Context, in NewOrder) (Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byExt[in.ExternalID]; ok {
		return *r.orders[id], true, nil
	}

	prices := make(map[string]int64, len(r.products))
	for id, p := range r.products {
		prices[id] = p.PriceCents
	}
	itemsCents, err := priceItems(in.Items, prices)
	if err != nil {
		return Order{}, false, err
	}

	now := time.Now().UTC()
	o := &Order{
		ID:              uuid.NewString(),
		ExternalID:      in.ExternalID,
		UserID:          in.UserID,
		Status:          StatusPending,
		ItemsCents:      itemsCents,
		ShippingCents:   in.ShippingCents,
		TotalCents:      itemsCents + in.ShippingCents,
		ShippingService: in.ShippingService,
		DestCEP:         in.DestCEP,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.orders[o.ID] = o
	r.byExt[in.ExternalID] = o.ID
	for _, it := range in.Items {
		r.items[o.ID] = append(r.items[o.ID], OrderItem{
			ID:         uuid.NewString(),
			OrderID:    o.ID,
			ProductID:  it.ProductID,
			Qty:        it.Qty,
			PriceCents: prices[it.ProductID],
		})
	}
	return *o, false, nil
}

func (r *MemoryRepo) Get(_ context.Context, orderID string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return *o, nil
}

func (r *MemoryRepo) Items(_ context.Context, orderID string) ([]OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OrderItem(nil), r.items[orderID]...), nil
}

func (r *MemoryRepo) Transition(_ context.Context, orderID string, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return false, ErrNotFound
	}
	if !CanTransition(o.Status, to) {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepo) FlagReview(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.ReviewRequired = true
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) SetPayment(_ context.Context, orderID, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.PaymentID = paymentID
	return nil
}

func (r *MemoryRepo) Products(_ context.Context, ids []string) (map[string]Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListProducts(context.Context) ([]Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sortBySKU(out)
	return out, nil
}

func sortBySKU(ps []Product) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].SKU < ps[j].SKU })
}
