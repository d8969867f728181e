package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar used for indicator evaluation.
type Candle struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Symbol    string          `json:"symbol" gorm:"type:varchar(40);not null;uniqueIndex:ux_candles_symbol_tf_datetime,priority:1"`
	Timeframe string          `json:"timeframe" gorm:"type:varchar(8);not null;uniqueIndex:ux_candles_symbol_tf_datetime,priority:2"`
	Datetime  time.Time       `json:"datetime" gorm:"not null;uniqueIndex:ux_candles_symbol_tf_datetime,priority:3;index"`
	Open      decimal.Decimal `json:"open" gorm:"type:numeric(36,18);not null"`
	High      decimal.Decimal `json:"high" gorm:"type:numeric(36,18);not null"`
	Low       decimal.Decimal `json:"low" gorm:"type:numeric(36,18);not null"`
	Close     decimal.Decimal `json:"close" gorm:"type:numeric(36,18);not null"`
	Volume    decimal.Decimal `json:"volume" gorm:"type:numeric(36,18);not null"`
	Source    string          `json:"source" gorm:"type:varchar(20)"`
}

func (Candle) TableName() string {
	return "candles"
}
