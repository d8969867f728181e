// Package indicators holds the pure indicator math behind the signal worker.
package indicators

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"cryptoexecutor/src/model"
)

var ErrNotEnoughData = errors.New("not enough candles for indicator")

// Snapshot is the indicator state at the latest close.
type Snapshot struct {
	Price  decimal.Decimal
	RSI    float64
	FastMA float64
	SlowMA float64
}

// Rules are the thresholds Decide applies to a Snapshot.
type Rules struct {
	RSIPeriod    int     `envconfig:"RSI_PERIOD" default:"14"`
	FastPeriod   int     `envconfig:"FAST_MA_PERIOD" default:"9"`
	SlowPeriod   int     `envconfig:"SLOW_MA_PERIOD" default:"21"`
	RSIBuyBelow  float64 `envconfig:"RSI_BUY_BELOW" default:"40"`
	RSISellAbove float64 `envconfig:"RSI_SELL_ABOVE" default:"70"`
}

// DefaultRules mirrors the envconfig defaults.
func DefaultRules() Rules {
	return Rules{RSIPeriod: 14, FastPeriod: 9, SlowPeriod: 21, RSIBuyBelow: 40, RSISellAbove: 70}
}

// MinCandles is the number of closes Compute needs for these rules.
func (r Rules) MinCandles() int {
	n := r.RSIPeriod + 1
	if r.SlowPeriod > n {
		n = r.SlowPeriod
	}
	if r.FastPeriod > n {
		n = r.FastPeriod
	}
	return n
}

func toFloats(closes []decimal.Decimal) []float64 {
	out := make([]float64, len(closes))
	for i, c := range closes {
		out[i] = c.InexactFloat64()
	}
	return out
}

// SMA is the simple moving average of the last n closes.
func SMA(closes []decimal.Decimal, n int) (float64, error) {
	if n <= 0 || len(closes) < n {
		return 0, ErrNotEnoughData
	}
	var sum float64
	for _, v := range toFloats(closes[len(closes)-n:]) {
		sum += v
	}
	return sum / float64(n), nil
}

// RSI is Wilder's relative strength index over period.
func RSI(closes []decimal.Decimal, period int) (float64, error) {
	if period <= 0 || len(closes) < period+1 {
		return 0, ErrNotEnoughData
	}
	values := toFloats(closes)

	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// Compute builds a Snapshot from closes in ascending time order.
func Compute(closes []decimal.Decimal, rules Rules) (Snapshot, error) {
	if len(closes) < rules.MinCandles() {
		return Snapshot{}, ErrNotEnoughData
	}
	rsi, err := RSI(closes, rules.RSIPeriod)
	if err != nil {
		return Snapshot{}, err
	}
	fast, err := SMA(closes, rules.FastPeriod)
	if err != nil {
		return Snapshot{}, err
	}
	slow, err := SMA(closes, rules.SlowPeriod)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Price:  closes[len(closes)-1],
		RSI:    round(rsi),
		FastMA: fast,
		SlowMA: slow,
	}, nil
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Decide maps a snapshot to BUY, SELL or WAIT.
func Decide(s Snapshot, r Rules) string {
	switch {
	case s.RSI < r.RSIBuyBelow && s.FastMA >= s.SlowMA:
		return model.SideBuy
	case s.RSI > r.RSISellAbove:
		return model.SideSell
	}
	return model.SideWait
}
