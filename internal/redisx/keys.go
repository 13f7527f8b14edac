package redisx

import "time"

const (
	// Cached status: sale_status:{sale_id} -> "Created" | "Confirmed" | "Failed"
	KeySaleStatus = "sale_status:%s"

	// Processed marker: dedup:{service}:{sale_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
