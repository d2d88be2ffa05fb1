package shipping

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress blocks a quote: origin or destination is not an 8 digit CEP.
	ErrInvalidAddress = errors.New("shipping: invalid address")
	// ErrCarrierTimeout is recovered locally into an estimate.
	ErrCarrierTimeout = errors.New("shipping: carrier timeout")
	// ErrCacheMiss is returned by QuoteStore implementations when no entry exists.
	ErrCacheMiss      = errors.New("shipping: cache miss")
	ErrEmptyCart      = errors.New("shipping: cart is empty")
	errUnknownService = errors.New("shipping: unknown service")
)

// CarrierError is a failed or nonsensical carrier answer, including business errors
// the carrier reports with a 200 status.
type CarrierError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *CarrierError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("carrier error service=%s status=%d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("carrier error service=%s: %s", e.Service, e.Message)
}
