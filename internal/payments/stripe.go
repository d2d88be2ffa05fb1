package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProvider implements Provider on top of Stripe payment intents.
type StripeProvider struct {
	intents stripeIntentAPI
	log     *zap.Logger
}

func NewStripeProvider(apiKey string, logger *zap.Logger) (*StripeProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, nil)
	return newStripeProvider(sc.PaymentIntents, logger), nil
}

func newStripeProvider(api stripeIntentAPI, logger *zap.Logger) *StripeProvider {
	return &StripeProvider{intents: api, log: observability.OrNop(logger)}
}

func (p *StripeProvider) CreatePayment(ctx context.Context, req ProviderRequest) (ProviderPayment, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountCents),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{stripeMethod(req.Method)}),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("order_id", req.OrderID)
	if req.Payer.Email != "" {
		params.ReceiptEmail = stripe.String(req.Payer.Email)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}

	pi, err := p.intents.New(params)
	if err != nil {
		return ProviderPayment{}, stripeGatewayError(err)
	}
	p.log.Debug("stripe intent created", zap.String("external_id", pi.ID), zap.String("status", string(pi.Status)))
	return stripePayment(pi), nil
}

func (p *StripeProvider) LookupPayment(ctx context.Context, externalID string) (ProviderPayment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.intents.Get(externalID, params)
	if err != nil {
		return ProviderPayment{}, stripeGatewayError(err)
	}
	return stripePayment(pi), nil
}

func stripeMethod(m Method) string {
	switch m {
	case MethodPix:
		return "pix"
	case MethodBoleto:
		return "boleto"
	default:
		return "card"
	}
}

func stripePayment(pi *stripe.PaymentIntent) ProviderPayment {
	if pi == nil {
		return ProviderPayment{}
	}
	status, detail := stripeStatus(pi)
	return ProviderPayment{
		ExternalID:   pi.ID,
		Status:       status,
		StatusDetail: detail,
		AmountCents:  pi.Amount,
		ClientSecret: pi.ClientSecret,
	}
}

func stripeStatus(pi *stripe.PaymentIntent) (Status, string) {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusApproved, ""
	case stripe.PaymentIntentStatusCanceled:
		if pi.CancellationReason == stripe.PaymentIntentCancellationReasonAbandoned {
			return StatusExpired, string(pi.CancellationReason)
		}
		return StatusCancelled, string(pi.CancellationReason)
	case stripe.PaymentIntentStatusProcessing:
		return StatusInProcess, ""
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// a failed attempt sends the intent back here with the decline attached
		if pi.LastPaymentError != nil {
			return StatusRejected, string(pi.LastPaymentError.Code)
		}
	}
	return StatusPending, string(pi.Status)
}

func stripeGatewayError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("stripe: %w", err)
	}
	code := string(se.Code)
	if code == "" {
		code = string(se.Type)
	}
	if se.HTTPStatusCode >= http.StatusInternalServerError {
		code = "unavailable"
	}
	return &GatewayError{Code: code, Message: se.Msg, HTTPStatus: se.HTTPStatusCode, Err: err}
}
