package trade

import (
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// Order kinds, used in client order IDs and metrics labels.
const (
	kindBase       = "base"
	kindInsurance  = "ins"
	kindTakeProfit = "tp"
)

// newClientOrderID builds a compact idempotency key for one order placement.
// Binance caps clientOrderId at 36 characters, so the uuid is base62-packed
// and truncated.
func newClientOrderID(kind string) string {
	u := uuid.New()
	encoded := base62.EncodeToString(u[:])
	if len(encoded) > 16 {
		encoded = encoded[:16]
	}
	return "dca-" + kind + "-" + encoded
}
