package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-fulfillment/internal/checkout"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
)

type CheckoutService interface {
	Quote(ctx context.Context, userID, destCEP string, items []orders.ItemInput, services []string) (checkout.QuoteResult, error)
	Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error)
}

// defaultCheckoutTimeout covers a cold quote plus a duplicate waiting on the
// gateway with its default settings.
const defaultCheckoutTimeout = 45 * time.Second

type CheckoutHandler struct {
	Service CheckoutService
	// Timeout bounds POST /checkout. It must outlast the quote and the gateway's
	// MaxCreateDuration together or a waiting duplicate fails instead of getting the
	// winner's intent.
	Timeout time.Duration
}

type CartQuoteReq struct {
	UserID   string             `json:"user_id"`
	DestCEP  string             `json:"dest_cep"`
	Items    []orders.ItemInput `json:"items"`
	Services []string           `json:"services"`
}

type CartQuoteResp struct {
	Success     bool          `json:"success"`
	Cached      bool          `json:"cached"`
	Options     []QuoteOption `json:"options"`
	TotalWeight float64       `json:"totalWeight"`
	Dimensions  QuoteDims     `json:"totalDimensions"`
	Origin      string        `json:"origin"`
	Destiny     string        `json:"destiny"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

type CheckoutReq struct {
	IdempotencyKey  string             `json:"idempotency_key"`
	UserID          string             `json:"user_id"`
	DestCEP         string             `json:"dest_cep"`
	Items           []orders.ItemInput `json:"items"`
	Services        []string           `json:"services"`
	ShippingService string             `json:"shipping_service"`
	Method          payments.Method    `json:"method"`
	Payer           payments.Payer     `json:"payer"`
}

type CheckoutResp struct {
	OrderID       string          `json:"order_id"`
	PaymentID     string          `json:"payment_id"`
	ClientSecret  string          `json:"client_secret,omitempty"`
	Status        orders.Status   `json:"status"`
	PaymentStatus payments.Status `json:"payment_status"`
	ItemsCents    int64           `json:"items_cents"`
	ShippingCents int64           `json:"shipping_cents"`
	TotalCents    int64           `json:"total_cents"`
	Idempotent    bool            `json:"idempotent"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout/shipping", h.quote)
	r.Post("/checkout", h.checkout)
}

func (h *CheckoutHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req CartQuoteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Service.Quote(ctx, req.UserID, req.DestCEP, req.Items, req.Services)
	if err != nil {
		writeError(w, err)
		return
	}
	q := res.Quote
	writeJSON(w, http.StatusOK, CartQuoteResp{
		Success:     true,
		Cached:      res.Hit,
		Options:     toQuoteOptions(q.Options),
		TotalWeight: q.Package.WeightKG(),
		Dimensions:  QuoteDims{Length: q.Package.LengthCM, Height: q.Package.HeightCM, Width: q.Package.WidthCM},
		Origin:      q.Origin,
		Destiny:     q.Destination,
		ExpiresAt:   q.ExpiresAt,
	})
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if k := strings.TrimSpace(r.Header.Get("Idempotency-Key")); k != "" {
		req.IdempotencyKey = k
	}
	if req.UserID == "" || req.ShippingService == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing fields"})
		return
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultCheckoutTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	res, err := h.Service.Checkout(ctx, checkout.Request{
		IdempotencyKey:  req.IdempotencyKey,
		UserID:          req.UserID,
		DestCEP:         req.DestCEP,
		Items:           req.Items,
		Services:        req.Services,
		ShippingService: req.ShippingService,
		Method:          req.Method,
		Payer:           req.Payer,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CheckoutResp{
		OrderID:       res.Order.ID,
		PaymentID:     res.Intent.ID,
		ClientSecret:  res.Intent.ClientSecret,
		Status:        res.Order.Status,
		PaymentStatus: res.Intent.DisplayStatus(),
		ItemsCents:    res.Order.ItemsCents,
		ShippingCents: res.Order.ShippingCents,
		TotalCents:    res.Order.TotalCents,
		Idempotent:    res.Idempotent,
	})
}
