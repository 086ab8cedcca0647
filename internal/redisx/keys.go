package redisx

import "time"

const (
	// idem:registration:{event_id}:{idempotency_key} -> order_id
	KeyIdemRegistration = "idem:registration:%s:%s"

	// dedup:payment:{payment_id} -> "1" once the callback settled the order
	KeyPaymentDedup = "dedup:payment:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
