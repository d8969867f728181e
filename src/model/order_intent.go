package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	IntentPending        = "PENDING"
	IntentFilledUpstream = "FILLED_UPSTREAM"
	IntentFailed         = "FAILED"
	IntentExpired        = "EXPIRED"
)

const (
	IntentSourceSignal = "signal"
	IntentSourceManual = "manual"
)

const (
	ErrorClassRetryable = "retryable"
	ErrorClassFatal     = "fatal"
)

// ActiveIntentStatuses are the statuses covered by the unique idempotency index.
var ActiveIntentStatuses = []string{IntentPending, IntentFilledUpstream}

// OrderIntent is the local record of a desire to place an entry order.
// At most one active intent exists per idempotency key.
type OrderIntent struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	IdempotencyKey string `gorm:"size:200;not null;index" json:"idempotency_key"`
	ClientOrderID  string `gorm:"size:64;not null;index" json:"client_oid"`

	Symbol      string          `gorm:"size:40;not null;index" json:"symbol"`
	Side        string          `gorm:"size:10;not null" json:"side"`
	OrderType   string          `gorm:"size:20;not null" json:"order_type"`
	Price       decimal.Decimal `gorm:"type:numeric(36,18)" json:"price"`
	Quantity    decimal.Decimal `gorm:"type:numeric(36,18)" json:"quantity"`
	StrategyKey string          `gorm:"size:80" json:"strategy_key"`
	SignalSeq   int64           `json:"signal_seq"`
	PriceBucket int64           `json:"price_bucket"`
	Source      string          `gorm:"size:20;not null;default:signal" json:"source"`

	Status          string     `gorm:"size:20;not null;index" json:"status"`
	ExchangeOrderID *string    `gorm:"size:64;index" json:"exchange_order_id,omitempty"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	LastError       string     `gorm:"type:text" json:"last_error,omitempty"`
	ErrorClass      string     `gorm:"size:20" json:"error_class,omitempty"`
	FailureReason   string     `gorm:"size:200" json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OrderIntent) TableName() string {
	return "order_intents"
}

func (i *OrderIntent) IsActive() bool {
	return i.Status == IntentPending || i.Status == IntentFilledUpstream
}
