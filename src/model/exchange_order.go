package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
	SideWait = "WAIT"
)

const (
	OrderTypeMarket     = "MARKET"
	OrderTypeLimit      = "LIMIT"
	OrderTypeStopLoss   = "STOP_LOSS"
	OrderTypeTakeProfit = "TAKE_PROFIT"
)

const (
	OrderStatusNew             = "NEW"
	OrderStatusActive          = "ACTIVE"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
)

const (
	OrderRoleParent     = "PARENT"
	OrderRoleStopLoss   = "STOP_LOSS"
	OrderRoleTakeProfit = "TAKE_PROFIT"
)

const (
	ProtectionNone      = "NO_PROTECTION"
	ProtectionProtected = "PROTECTED"
	ProtectionResolved  = "RESOLVED"
)

// NonTerminalOrderStatuses lists statuses for orders still live on the exchange.
var NonTerminalOrderStatuses = []string{
	OrderStatusNew,
	OrderStatusActive,
	OrderStatusPartiallyFilled,
}

// ExchangeOrder mirrors one order as reported by the exchange.
// Rows are never deleted, only transitioned.
type ExchangeOrder struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	OrderID       string `gorm:"size:64;not null;uniqueIndex" json:"order_id"` // exchange order id
	ClientOrderID string `gorm:"size:64;index" json:"client_oid"`
	Symbol        string `gorm:"size:40;index" json:"symbol"`
	Side          string `gorm:"size:10" json:"side"`
	Type          string `gorm:"size:20" json:"type"`
	Status        string `gorm:"size:20;index" json:"status"`

	Price              decimal.Decimal `gorm:"type:numeric(36,18)" json:"price"`
	TriggerPrice       decimal.Decimal `gorm:"type:numeric(36,18)" json:"trigger_price"`
	Quantity           decimal.Decimal `gorm:"type:numeric(36,18)" json:"quantity"`
	CumulativeQuantity decimal.Decimal `gorm:"type:numeric(36,18)" json:"cumulative_quantity"`
	AvgPrice           decimal.Decimal `gorm:"type:numeric(36,18)" json:"avg_price"`

	// OCO linkage. Non-terminal protective legs must carry both.
	ParentOrderID *string `gorm:"size:64;index" json:"parent_order_id,omitempty"`
	OcoGroupID    *string `gorm:"size:80;index" json:"oco_group_id,omitempty"`
	OrderRole     *string `gorm:"size:20;index" json:"order_role,omitempty"`

	// IntentID is the signal reference for orders placed by this system.
	IntentID *uint `gorm:"index" json:"intent_id,omitempty"`

	// Parent rows only. ProtectionGroupID names the OCO group protecting the
	// entry; the parent itself is never a member of that group.
	ProtectionState    string  `gorm:"size:20;index" json:"protection_state,omitempty"`
	ProtectionGroupID  *string `gorm:"size:80;index" json:"protection_group_id,omitempty"`
	ProtectionAttempts int     `gorm:"not null;default:0" json:"protection_attempts"`

	ExchangeCreatedAt *time.Time `json:"exchange_created_at,omitempty"`
	ExchangeUpdatedAt *time.Time `json:"exchange_updated_at,omitempty"`
	FilledAt          *time.Time `json:"filled_at,omitempty"`
	NotifiedAt        *time.Time `json:"notified_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (ExchangeOrder) TableName() string {
	return "exchange_orders"
}

// IsTerminal reports whether the order can no longer change on the exchange.
func (o *ExchangeOrder) IsTerminal() bool {
	return IsTerminalStatus(o.Status)
}

// Role returns the order role or an empty string.
func (o *ExchangeOrder) Role() string {
	if o.OrderRole == nil {
		return ""
	}
	return *o.OrderRole
}

// IsProtectiveLeg reports whether the order is a STOP_LOSS or TAKE_PROFIT leg.
func (o *ExchangeOrder) IsProtectiveLeg() bool {
	r := o.Role()
	return r == OrderRoleStopLoss || r == OrderRoleTakeProfit
}

func IsTerminalStatus(status string) bool {
	return status == OrderStatusFilled || status == OrderStatusCancelled
}
