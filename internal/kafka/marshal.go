package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func UnmarshalEnvelope(b []byte) (orders.Envelope, error) {
	var ev orders.Envelope
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("decode envelope: %w", err)
	}
	return ev, nil
}

// UnwrapPayload decodes an envelope payload into its concrete type.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// EventPublisher adapts Producer to orders.Publisher.
type EventPublisher struct{ P *Producer }

func (e EventPublisher) Publish(ctx context.Context, topic string, key []byte, ev orders.Envelope) error {
	return e.P.Publish(ctx, topic, key, MustMarshal(ev),
		kafka.Header{Key: HeaderEventType, Value: []byte(ev.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
}
