package reconcile

import (
	"github.com/shopspring/decimal"

	"cryptoexecutor/src/mapper"
	"cryptoexecutor/src/model"
)

type lot struct {
	qty   decimal.Decimal
	price decimal.Decimal
}

// RealizedPnL matches filled sells against earlier filled buys first in,
// first out. Protective legs are left out and fees are ignored, so the
// figure is an approximation for operators, not an accounting record.
func RealizedPnL(filled []model.ExchangeOrder) decimal.Decimal {
	var lots []lot
	pnl := decimal.Zero
	for i := range filled {
		o := &filled[i]
		if o.IsProtectiveLeg() || o.Status != model.OrderStatusFilled {
			continue
		}
		qty := mapper.FilledQuantity(o)
		price := mapper.FillPrice(o)
		if !qty.IsPositive() || !price.IsPositive() {
			continue
		}
		switch o.Side {
		case model.SideBuy:
			lots = append(lots, lot{qty: qty, price: price})
		case model.SideSell:
			for qty.IsPositive() && len(lots) > 0 {
				matched := decimal.Min(qty, lots[0].qty)
				pnl = pnl.Add(price.Sub(lots[0].price).Mul(matched))
				qty = qty.Sub(matched)
				lots[0].qty = lots[0].qty.Sub(matched)
				if !lots[0].qty.IsPositive() {
					lots = lots[1:]
				}
			}
		}
	}
	return pnl
}
