package redisx

import "time"

const (
	// Idempotency lock for payment creation: idem:payment:create:{idempotency_key}
	KeyIdemPaymentCreate = "idem:payment:create:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "payment_status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Shipping quote per cart hash: shipping:quote:{cart_hash}
	KeyShippingQuote = "shipping:quote:%s"

	// Consumer dedup: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotencyLock = 30 * time.Second
	TTLStatusCache     = 5 * time.Minute
	// Quotes are checked for expiry at read time; the Redis TTL only reclaims
	// abandoned keys.
	TTLQuoteGrace = 10 * time.Minute
	TTLDedup      = 24 * time.Hour
)
