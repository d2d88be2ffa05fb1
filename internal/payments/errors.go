package payments

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("payments: intent not found")
	// ErrDuplicateKey is returned by IntentStore.Create when the idempotency key is taken.
	ErrDuplicateKey = errors.New("payments: idempotency key already used")
	// ErrKeyConflict means the key was reused for a different order or amount.
	ErrKeyConflict = errors.New("payments: idempotency key reused with different payload")
	// ErrInProgress means another request holds the key and did not finish in time.
	ErrInProgress = errors.New("payments: payment creation in progress")
)

// ValidationError is malformed payer or amount data. Nothing is sent to the provider.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// GatewayError is a provider-side rejection or failure. No intent exists afterwards.
type GatewayError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return "gateway error: " + e.Code
	}
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }
