package shipping

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateRequest is a single-service price/deadline question to the carrier.
type RateRequest struct {
	Service   string
	OriginCEP string
	DestCEP   string
	WeightG   int
	Dims      Dimensions
}

// CarrierRate is the carrier's raw answer before validation.
type CarrierRate struct {
	Price   decimal.Decimal
	ETADays int
}

// Carrier is the pluggable strategy the RateClient calls once per service.
type Carrier interface {
	Rate(ctx context.Context, req RateRequest) (CarrierRate, error)
}

// CarrierFunc adapts a function to Carrier.
type CarrierFunc func(ctx context.Context, req RateRequest) (CarrierRate, error)

func (f CarrierFunc) Rate(ctx context.Context, req RateRequest) (CarrierRate, error) {
	return f(ctx, req)
}
