package shipping

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-fulfillment/internal/cart"
)

// Carrier service codes.
const (
	ServicePAC     = "04510"
	ServiceSEDEX   = "04014"
	ServiceSEDEX12 = "04782"
	ServiceSEDEX10 = "04790"
)

// DefaultServices are quoted when the caller does not ask for specific ones.
var DefaultServices = []string{ServicePAC, ServiceSEDEX}

type Dimensions struct {
	LengthCM int `json:"length_cm"`
	WidthCM  int `json:"width_cm"`
	HeightCM int `json:"height_cm"`
}

func DimensionsOf(p cart.Package) Dimensions {
	return Dimensions{LengthCM: p.LengthCM, WidthCM: p.WidthCM, HeightCM: p.HeightCM}
}

// Option is one priced shipping service. Estimates are computed locally when the
// carrier could not answer and always expire sooner than carrier prices.
type Option struct {
	ServiceCode string          `json:"service_code"`
	ServiceName string          `json:"service_name"`
	Price       decimal.Decimal `json:"price"`
	ETADays     int             `json:"eta_days"`
	IsEstimate  bool            `json:"is_estimate"`
	Reason      string          `json:"reason,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Quote is what the cache holds for one cart.
type Quote struct {
	Key         string       `json:"key"`
	Origin      string       `json:"origin"`
	Destination string       `json:"destination"`
	Package     cart.Package `json:"package"`
	Options     []Option     `json:"options"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Option returns the option for service code, if quoted.
func (q Quote) Option(code string) (Option, bool) {
	for _, o := range q.Options {
		if o.ServiceCode == code {
			return o, true
		}
	}
	return Option{}, false
}

// earliestExpiry is the moment the first option stops being trustworthy.
func earliestExpiry(opts []Option) time.Time {
	var t time.Time
	for _, o := range opts {
		if t.IsZero() || o.ExpiresAt.Before(t) {
			t = o.ExpiresAt
		}
	}
	return t
}
