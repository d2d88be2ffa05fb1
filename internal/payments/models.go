package payments

import "time"

type Method string

const (
	MethodCard   Method = "card"
	MethodPix    Method = "pix"
	MethodBoleto Method = "boleto"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCard, MethodPix, MethodBoleto:
		return true
	}
	return false
}

// PaymentIntent is created once per idempotency key. Amount never changes after
// creation; Status is only written by the reconciler.
type PaymentIntent struct {
	ID             string     `json:"id"`
	ExternalID     string     `json:"external_id"`
	IdempotencyKey string     `json:"idempotency_key"`
	OrderID        string     `json:"order_id"`
	AmountCents    int64      `json:"amount_cents"`
	Currency       string     `json:"currency"`
	Method         Method     `json:"method"`
	Status         Status     `json:"status"`
	ClientSecret   string     `json:"client_secret,omitempty"`
	PollExhausted  bool       `json:"poll_exhausted"`
	CreatedAt      time.Time  `json:"created_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DisplayStatus is the status shown to the buyer: an undecided intent whose polling
// ran out is presented as expired, while a late webhook may still resolve it.
func (p PaymentIntent) DisplayStatus() Status {
	if p.PollExhausted && !p.Status.Terminal() {
		return StatusExpired
	}
	return p.Status
}

type Payer struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Document string `json:"document,omitempty"` // CPF or CNPJ digits
}

// OrderSnapshot is what the gateway needs to charge for an order.
type OrderSnapshot struct {
	OrderID     string
	UserID      string
	AmountCents int64
	Currency    string
	Method      Method
	Payer       Payer
	Description string
}
