package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/reconcile"
)

type Resolver interface {
	Resolve(ctx context.Context, intentID string, src reconcile.Source) (reconcile.Outcome, error)
	ResolveExternal(ctx context.Context, externalID string, src reconcile.Source) (reconcile.Outcome, error)
}

type PaymentsHandler struct {
	Reconciler    Resolver
	JWTSecret     []byte
	WebhookSecret []byte
	Log           *zap.Logger
}

type ReconcileReq struct {
	PaymentID string `json:"paymentId"`
}

type ReconcileDetails struct {
	OrderID        string          `json:"orderId"`
	ExternalID     string          `json:"externalId"`
	StoredStatus   payments.Status `json:"storedStatus"`
	Changed        bool            `json:"changed"`
	OrderChanged   bool            `json:"orderChanged"`
	StockApplied   bool            `json:"stockApplied"`
	ReviewRequired bool            `json:"reviewRequired"`
	PollExhausted  bool            `json:"pollExhausted"`
}

type ReconcileResp struct {
	Success bool             `json:"success"`
	Status  payments.Status  `json:"status"`
	Details ReconcileDetails `json:"details"`
	Error   string           `json:"error,omitempty"`
}

// webhookEvent is the provider notification. Only the payment id is trusted; the
// status is always re-read from the provider.
type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.With(RequireJWT(h.JWTSecret)).Post("/payments/reconcile", h.reconcile)
	r.Post("/webhooks/payments", h.webhook)
}

func (h *PaymentsHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentID == "" {
		writeJSON(w, http.StatusBadRequest, ReconcileResp{Error: "paymentId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	out, err := h.Reconciler.Resolve(ctx, req.PaymentID, reconcile.SourceReconcile)
	if errors.Is(err, payments.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ReconcileResp{Error: "payment not found"})
		return
	}
	if err != nil {
		observability.OrNop(h.Log).Warn("reconcile failed", zap.String("payment_id", req.PaymentID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ReconcileResp{Status: out.Intent.DisplayStatus(), Error: "could not reach payment provider"})
		return
	}
	writeJSON(w, http.StatusOK, ReconcileResp{
		Success: true,
		Status:  out.Intent.DisplayStatus(),
		Details: ReconcileDetails{
			OrderID:        out.Intent.OrderID,
			ExternalID:     out.Intent.ExternalID,
			StoredStatus:   out.Intent.Status,
			Changed:        out.Changed,
			OrderChanged:   out.OrderChanged,
			StockApplied:   out.StockApplied,
			ReviewRequired: len(out.Shortages) > 0,
			PollExhausted:  out.Intent.PollExhausted,
		},
	})
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body"})
		return
	}
	if !validSignature(h.WebhookSecret, body, r.Header.Get("X-Signature")) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid signature"})
		return
	}
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.Data.Object.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	log := observability.OrNop(h.Log).With(zap.String("external_id", ev.Data.Object.ID), zap.String("type", ev.Type))
	out, err := h.Reconciler.ResolveExternal(ctx, ev.Data.Object.ID, reconcile.SourceWebhook)
	switch {
	case errors.Is(err, payments.ErrNotFound):
		// not ours, or created by a request that never stored the intent
		log.Info("webhook for unknown payment ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	case err != nil:
		// non-2xx makes the provider redeliver
		log.Warn("webhook resolve failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "retry later"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(out.Intent.Status)})
	}
}
