package reconcile

import (
	"github.com/shopspring/decimal"
)

// Drift is abs(local-exchange)/exchange. A non-positive exchange value
// yields zero drift when local is also zero and 1 otherwise.
func Drift(local, exchange decimal.Decimal) decimal.Decimal {
	if !exchange.IsPositive() {
		if local.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(1)
	}
	return local.Sub(exchange).Abs().Div(exchange)
}

// ExceedsThreshold is strict: drift equal to the threshold does not alert.
func ExceedsThreshold(drift, threshold decimal.Decimal) bool {
	return drift.GreaterThan(threshold)
}

// Rolling folds drift into the previous rolling value with weight alpha.
func Rolling(prev *decimal.Decimal, drift, alpha decimal.Decimal) decimal.Decimal {
	if prev == nil {
		return drift
	}
	return alpha.Mul(drift).Add(decimal.NewFromInt(1).Sub(alpha).Mul(*prev))
}
