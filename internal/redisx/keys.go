package redisx

import (
	"fmt"
	"time"
)

const (
	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup: dedup:{service}:{id}; id = gateway event id (webhook) or envelope event id (notifier)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func fmtKey(format string, args ...any) string { return fmt.Sprintf(format, args...) }
