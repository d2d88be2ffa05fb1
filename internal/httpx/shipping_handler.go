package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/cart"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

type ShippingHandler struct {
	Quoter    shipping.Quoter
	OriginCEP string
	Log       *zap.Logger
}

// QuoteReq is a single parcel: weight in kg, dimensions in cm.
type QuoteReq struct {
	OriginCEP  string   `json:"originCep"`
	DestinyCEP string   `json:"destinyCep"`
	Weight     float64  `json:"weight"`
	Length     int      `json:"length"`
	Height     int      `json:"height"`
	Width      int      `json:"width"`
	Services   []string `json:"services"`
}

type QuoteOption struct {
	Service      string      `json:"service"`
	ServiceName  string      `json:"serviceName"`
	Price        json.Number `json:"price"`
	DeliveryTime int         `json:"deliveryTime"`
	Estimated    bool        `json:"estimated"`
	Error        string      `json:"error,omitempty"`
}

type QuoteDims struct {
	Length int `json:"length"`
	Height int `json:"height"`
	Width  int `json:"width"`
}

type QuoteResp struct {
	Success         bool          `json:"success"`
	Options         []QuoteOption `json:"options"`
	TotalWeight     float64       `json:"totalWeight"`
	TotalDimensions QuoteDims     `json:"totalDimensions"`
	Origin          string        `json:"origin"`
	Destiny         string        `json:"destiny"`
	Error           string        `json:"error,omitempty"`
}

func (h *ShippingHandler) Register(r chi.Router) {
	r.Post("/shipping/quote", h.quote)
}

func (h *ShippingHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, QuoteResp{Error: "invalid json"})
		return
	}
	if req.Weight <= 0 {
		writeJSON(w, http.StatusBadRequest, QuoteResp{Error: "weight must be positive"})
		return
	}
	origin := req.OriginCEP
	if origin == "" {
		origin = h.OriginCEP
	}

	pkg := cart.Aggregate(cart.Snapshot{Items: []cart.LineItem{{
		ProductID:   "parcel",
		Quantity:    1,
		UnitWeightG: int(math.Round(req.Weight * 1000)),
		LengthCM:    req.Length,
		WidthCM:     req.Width,
		HeightCM:    req.Height,
	}}})
	resp := QuoteResp{
		TotalWeight:     pkg.WeightKG(),
		TotalDimensions: QuoteDims{Length: pkg.LengthCM, Height: pkg.HeightCM, Width: pkg.WidthCM},
		Origin:          origin,
		Destiny:         req.DestinyCEP,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	opts, err := h.Quoter.Quote(ctx, origin, req.DestinyCEP, pkg.TotalWeightG, shipping.DimensionsOf(pkg), req.Services)
	switch {
	case errors.Is(err, shipping.ErrInvalidAddress):
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, resp)
		return
	case err != nil:
		// callers always get a usable quote
		observability.OrNop(h.Log).Error("shipping quote failed", zap.Error(err))
		resp.Error = "could not price shipping, showing standard rates"
		resp.Options = toQuoteOptions(shipping.FallbackOptions(time.Now()))
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Success = true
	resp.Options = toQuoteOptions(opts)
	writeJSON(w, http.StatusOK, resp)
}

func toQuoteOptions(opts []shipping.Option) []QuoteOption {
	out := make([]QuoteOption, 0, len(opts))
	for _, o := range opts {
		out = append(out, QuoteOption{
			Service:      o.ServiceCode,
			ServiceName:  o.ServiceName,
			Price:        json.Number(o.Price.StringFixed(2)),
			DeliveryTime: o.ETADays,
			Estimated:    o.IsEstimate,
			Error:        o.Reason,
		})
	}
	return out
}
