package payments

import "context"

// ProviderRequest asks the external provider to create a payment.
type ProviderRequest struct {
	IdempotencyKey string
	OrderID        string
	AmountCents    int64
	Currency       string
	Method         Method
	Payer          Payer
	Description    string
}

// ProviderPayment is the provider's view of a payment, normalised to our statuses.
type ProviderPayment struct {
	ExternalID   string
	Status       Status
	StatusDetail string
	AmountCents  int64
	ClientSecret string
}

// Provider is the external payment gateway. Implementations must honour the
// idempotency key and return *GatewayError for provider-side rejections.
type Provider interface {
	CreatePayment(ctx context.Context, req ProviderRequest) (ProviderPayment, error)
	LookupPayment(ctx context.Context, externalID string) (ProviderPayment, error)
}
