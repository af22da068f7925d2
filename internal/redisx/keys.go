package redisx

import "time"

const (
	// idem:order:place:{idempotency_key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s"

	// order_status:{order_id} -> hash {v: version, data: order JSON}
	KeyOrderStatus = "order_status:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// carrier_token:{account} -> bearer token shared by every api instance
	KeyCarrierToken = "carrier_token:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
