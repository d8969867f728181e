package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalState is the persisted per (symbol, strategy) signal tracker.
// Tracked order prices survive transitions to WAIT.
type SignalState struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Symbol      string `gorm:"size:40;not null;uniqueIndex:uniq_signal_symbol_strategy" json:"symbol"`
	StrategyKey string `gorm:"size:80;not null;uniqueIndex:uniq_signal_symbol_strategy" json:"strategy_key"`
	Side        string `gorm:"size:10;not null;default:WAIT" json:"side"`
	SignalSeq   int64  `gorm:"not null;default:0" json:"signal_seq"`

	LastPrice          decimal.Decimal     `gorm:"type:numeric(36,18)" json:"last_price"`
	LastBuyOrderPrice  decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"last_buy_order_price"`
	LastSellOrderPrice decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"last_sell_order_price"`

	OpenOrdersAtLastOrder int `gorm:"not null;default:0" json:"open_orders_at_last_order"`

	RSI    float64 `json:"rsi"`
	FastMA float64 `json:"fast_ma"`
	SlowMA float64 `json:"slow_ma"`

	EvaluatedAt time.Time  `json:"evaluated_at"`
	LastOrderAt *time.Time `json:"last_order_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (SignalState) TableName() string {
	return "signal_states"
}

// LastOrderPrice returns the tracked order price for the given side.
func (s *SignalState) LastOrderPrice(side string) decimal.NullDecimal {
	switch side {
	case SideBuy:
		return s.LastBuyOrderPrice
	case SideSell:
		return s.LastSellOrderPrice
	}
	return decimal.NullDecimal{}
}

// SetLastOrderPrice records the price of a successful order for the side.
func (s *SignalState) SetLastOrderPrice(side string, price decimal.Decimal) {
	v := decimal.NullDecimal{Decimal: price, Valid: true}
	switch side {
	case SideBuy:
		s.LastBuyOrderPrice = v
	case SideSell:
		s.LastSellOrderPrice = v
	}
}
