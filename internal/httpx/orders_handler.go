package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
)

type OrderReader interface {
	Get(ctx context.Context, orderID string) (orders.Order, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type IntentReader interface {
	ByID(ctx context.Context, id string) (payments.PaymentIntent, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) ([]byte, bool, error)
	Set(ctx context.Context, orderID string, doc []byte) error
}

type OrdersHandler struct {
	Repo    OrderReader
	Intents IntentReader
	Cache   StatusCache // optional
	Log     *zap.Logger
}

// OrderStatusResp is the cached status document. The reconciler invalidates it on
// every transition.
type OrderStatusResp struct {
	OrderID         string          `json:"order_id"`
	Status          orders.Status   `json:"status"`
	PaymentID       string          `json:"payment_id,omitempty"`
	PaymentStatus   payments.Status `json:"payment_status,omitempty"`
	ReviewRequired  bool            `json:"review_required"`
	ItemsCents      int64           `json:"items_cents"`
	ShippingCents   int64           `json:"shipping_cents"`
	TotalCents      int64           `json:"total_cents"`
	ShippingService string          `json:"shipping_service,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Repo.ListProducts(ctx)
	if err != nil {
		observability.OrNop(h.Log).Error("list products failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	log := observability.OrNop(h.Log).With(zap.String("order_id", orderID))

	if h.Cache != nil {
		doc, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			log.Warn("status cache read failed", zap.Error(err))
		}
		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(doc)
			return
		}
	}

	o, err := h.Repo.Get(ctx, orderID)
	if err != nil {
		if !errors.Is(err, orders.ErrNotFound) {
			log.Error("load order failed", zap.Error(err))
		}
		writeError(w, err)
		return
	}

	resp := OrderStatusResp{
		OrderID:         o.ID,
		Status:          o.Status,
		PaymentID:       o.PaymentID,
		ReviewRequired:  o.ReviewRequired,
		ItemsCents:      o.ItemsCents,
		ShippingCents:   o.ShippingCents,
		TotalCents:      o.TotalCents,
		ShippingService: o.ShippingService,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.PaymentID != "" && h.Intents != nil {
		intent, err := h.Intents.ByID(ctx, o.PaymentID)
		switch {
		case err == nil:
			resp.PaymentStatus = intent.DisplayStatus()
		case !errors.Is(err, payments.ErrNotFound):
			log.Warn("load payment failed", zap.Error(err))
		}
	}

	b, err := json.Marshal(resp)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, orderID, b); err != nil {
			log.Warn("status cache write failed", zap.Error(err))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
