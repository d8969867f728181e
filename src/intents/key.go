package intents

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"cryptoexecutor/src/model"
)

// PriceBucket places price on a logarithmic grid with pct wide cells, so
// nearby prices share a bucket regardless of magnitude.
func PriceBucket(price decimal.Decimal, pct float64) int64 {
	p := price.InexactFloat64()
	if p <= 0 || pct <= 0 {
		return 0
	}
	return int64(math.Floor(math.Log(p) / math.Log1p(pct)))
}

// IdempotencyKey derives the key shared by every request meant to produce
// the same entry order.
func IdempotencyKey(r Request, bucket int64) string {
	if r.Source == model.IntentSourceManual {
		return fmt.Sprintf("%s:%s:manual:%s:%d", r.Symbol, r.Side, r.Reference, bucket)
	}
	return fmt.Sprintf("%s:%s:%s#%d:%d", r.Symbol, r.Side, r.StrategyKey, r.SignalSeq, bucket)
}

// ClientOrderID is the client_oid sent with the order. It is derived from
// the key so a retried submission can be matched to what the exchange holds.
func ClientOrderID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}
