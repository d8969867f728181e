package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the local cache of one currency position on the exchange.
type Balance struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Currency    string          `gorm:"size:20;not null;uniqueIndex" json:"currency"`
	Quantity    decimal.Decimal `gorm:"type:numeric(36,18)" json:"quantity"`
	Reserved    decimal.Decimal `gorm:"type:numeric(36,18)" json:"reserved"`
	MarketValue decimal.Decimal `gorm:"type:numeric(36,18)" json:"market_value"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Balance) TableName() string {
	return "balances"
}

// Available is the free quantity not reserved by open orders.
func (b *Balance) Available() decimal.Decimal {
	a := b.Quantity.Sub(b.Reserved)
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}

// PortfolioSnapshotID is the primary key of the single snapshot row.
const PortfolioSnapshotID = 1

// PortfolioSnapshot holds the latest portfolio valuation and drift.
// The single row is overwritten every reconciliation cycle.
type PortfolioSnapshot struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	LocalValue      decimal.Decimal `gorm:"type:numeric(36,18)" json:"local_value"`
	ExchangeValue   decimal.Decimal `gorm:"type:numeric(36,18)" json:"exchange_value"`
	DriftPct        decimal.Decimal `gorm:"type:numeric(36,18)" json:"drift_pct"`
	RollingDriftPct decimal.Decimal `gorm:"type:numeric(36,18)" json:"rolling_drift_pct"`
	Alerted         bool            `json:"alerted"`
	ComputedAt      time.Time       `json:"computed_at"`
}

func (PortfolioSnapshot) TableName() string {
	return "portfolio_snapshots"
}
