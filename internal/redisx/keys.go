package redisx

import "time"

const (
	// Idempotency create intent: idem:intent:{store_id}:{Idempotency-Key} -> "pending" while
	// the first request runs, then {"order_id":..,"public_token":".."}
	KeyIdemIntent = "idem:intent:%s"

	// Metrics cache: metrics:{store_id}:{range} -> orders.Metrics JSON
	KeyMetrics = "metrics:%d:%s"

	// Metrics generation: metrics:{store_id}:gen -> counter bumped on every
	// invalidation; a rollup computed under an older generation is not stored
	KeyMetricsGen = "metrics:%d:gen"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLIntentClaim = 30 * time.Second
	TTLMetrics     = time.Minute
	TTLDedup       = 48 * time.Hour
)
