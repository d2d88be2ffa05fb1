package payments

import (
	"context"
	"time"
)

// IntentStore persists payment intents.
type IntentStore interface {
	// Create fails with ErrDuplicateKey when an intent created at or after since
	// holds the idempotency key. Older holders give the key up.
	Create(ctx context.Context, p PaymentIntent, since time.Time) error
	// ByKey returns the intent for key created at or after since.
	ByKey(ctx context.Context, key string, since time.Time) (PaymentIntent, error)
	ByID(ctx context.Context, id string) (PaymentIntent, error)
	ByExternalID(ctx context.Context, externalID string) (PaymentIntent, error)
	// Transition atomically moves the intent to status if CanTransition allows it
	// from the stored status. The bool reports whether the write happened; the
	// returned intent is the stored state after the call either way.
	Transition(ctx context.Context, id string, to Status, at time.Time) (PaymentIntent, bool, error)
	MarkPollExhausted(ctx context.Context, id string) error
	// ListStale returns non-terminal intents created before the cutoff.
	ListStale(ctx context.Context, before time.Time, limit int) ([]PaymentIntent, error)
}

// Locker serialises concurrent creates for the same idempotency key.
type Locker interface {
	Acquire(ctx context.Context, key, token string) (bool, error)
	Release(ctx context.Context, key, token string) error
}
