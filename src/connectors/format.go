package connectors

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Rounding selects how a value snaps to an instrument tick.
type Rounding int

const (
	RoundNearest Rounding = iota
	RoundDown
	RoundUp
)

// maxFormatAttempts bounds the precision candidates tried after a 308.
const maxFormatAttempts = 4

// Quantize snaps v to a multiple of tick using the given rounding mode.
// A non-positive tick returns v unchanged.
func Quantize(v, tick decimal.Decimal, mode Rounding) decimal.Decimal {
	if !tick.IsPositive() {
		return v
	}
	steps := v.Div(tick)
	switch mode {
	case RoundDown:
		steps = steps.Floor()
	case RoundUp:
		steps = steps.Ceil()
	default:
		steps = steps.Round(0)
	}
	return steps.Mul(tick)
}

// TickDecimals is the number of decimal places implied by a tick size.
func TickDecimals(tick decimal.Decimal) int32 {
	s := tick.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// FormatDecimal renders v as a plain decimal string with exactly
// decimals places. Scientific notation is never produced.
func FormatDecimal(v decimal.Decimal, decimals int32) string {
	if decimals < 0 {
		decimals = 0
	}
	return v.StringFixed(decimals)
}

// FormatPrice quantizes a price to the instrument tick and renders it.
func FormatPrice(v decimal.Decimal, inst *Instrument, mode Rounding) string {
	return FormatDecimal(Quantize(v, inst.PriceTick, mode), TickDecimals(inst.PriceTick))
}

// FormatQuantity quantizes a quantity down to the instrument tick and renders it.
func FormatQuantity(v decimal.Decimal, inst *Instrument) string {
	return FormatDecimal(Quantize(v, inst.QtyTick, RoundDown), TickDecimals(inst.QtyTick))
}

// PrecisionCandidates lists the price precisions tried in order when the
// exchange rejects a price format: the tick precision, the instrument quote
// precision, then progressively coarser precisions.
func PrecisionCandidates(inst *Instrument) []int32 {
	first := TickDecimals(inst.PriceTick)
	out := []int32{first}
	seen := map[int32]bool{first: true}

	add := func(d int32) {
		if d < 0 || seen[d] || len(out) >= maxFormatAttempts {
			return
		}
		seen[d] = true
		out = append(out, d)
	}

	add(inst.QuoteDecimals)
	for d := first - 1; d >= 0 && len(out) < maxFormatAttempts; d-- {
		add(d)
	}
	return out
}
