package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated         = "OrderCreated"
	EventPaymentCreated       = "PaymentCreated"
	EventPaymentStatusChanged = "PaymentStatusChanged"
	EventOrderPaid            = "OrderPaid"
	EventOrderFinalized       = "OrderFinalized"
	EventStockShortage        = "StockShortage"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "fulfillment-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Publisher hands an event to the broker. Partitioning is by key.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, ev Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte, Envelope) error { return nil }

// ---- payloads ----

type ItemPrice struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type OrderCreatedPayload struct {
	OrderID       string      `json:"order_id"`
	ExternalID    string      `json:"external_id"`
	UserID        string      `json:"user_id"`
	Items         []ItemPrice `json:"items"`
	ShippingCents int64       `json:"shipping_cents"`
	TotalCents    int64       `json:"total_cents"`
}

type PaymentCreatedPayload struct {
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id"`
	ExternalID  string `json:"external_id"`
	AmountCents int64  `json:"amount_cents"`
}

type PaymentStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Source    string `json:"source"` // webhook | poll | reconcile | sweeper
}

type OrderPaidPayload struct {
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id"`
	AmountCents int64  `json:"amount_cents"`
}

type OrderFinalizedPayload struct {
	OrderID     string   `json:"order_id"`
	FinalStatus string   `json:"final_status"`      // paid | failed | cancelled
	Reasons     []string `json:"reasons,omitempty"` // payment status when not paid
}

type StockShortageDetail struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type StockShortagePayload struct {
	OrderID string                `json:"order_id"`
	Details []StockShortageDetail `json:"details"`
}
