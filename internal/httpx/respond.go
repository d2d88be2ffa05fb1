package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-order-fulfillment/internal/checkout"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var ve *payments.ValidationError
	var ge *payments.GatewayError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Code: "validation_error", Field: ve.Field})
	case errors.As(err, &ge):
		writeJSON(w, http.StatusPaymentRequired, errorBody{Error: ge.Error(), Code: ge.Code})
	case errors.Is(err, shipping.ErrInvalidAddress):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_address"})
	case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, orders.ErrInvalidQty),
		errors.Is(err, orders.ErrProductNotFound), errors.Is(err, checkout.ErrShippingUnavailable):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, checkout.ErrOutOfStock):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "item_unavailable"})
	case errors.Is(err, payments.ErrKeyConflict):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "idempotency_key_reused"})
	case errors.Is(err, payments.ErrInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "in_progress"})
	case errors.Is(err, payments.ErrNotFound), errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
