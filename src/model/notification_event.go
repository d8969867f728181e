package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventKindFill  = "fill"
	EventKindAlert = "alert"
	EventKindDrift = "drift"
	EventKindAudit = "audit"
)

const (
	SeverityInfo = "info"
	SeverityWarn = "warn"
	SeverityHigh = "high"
)

// NotificationEvent is a message produced for external collaborators
// (chat notifier, dashboards).
type NotificationEvent struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Kind            string          `gorm:"size:20;not null;index" json:"kind"`
	Severity        string          `gorm:"size:10;not null" json:"severity"`
	ExchangeOrderID *string         `gorm:"size:64;index" json:"exchange_order_id,omitempty"`
	Symbol          string          `gorm:"size:40" json:"symbol,omitempty"`
	OrderRole       string          `gorm:"size:20" json:"order_role,omitempty"`
	FillPrice       decimal.Decimal `gorm:"type:numeric(36,18)" json:"fill_price"`
	OcoOutcome      string          `gorm:"size:200" json:"oco_outcome,omitempty"`
	Message         string          `gorm:"type:text" json:"message"`
	Delivered       bool            `json:"delivered"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (NotificationEvent) TableName() string {
	return "notification_events"
}
