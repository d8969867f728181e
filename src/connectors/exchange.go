package connectors

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is the surface the executor needs from a spot exchange.
type Exchange interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderInfo, error)
	GetOrderHistory(ctx context.Context, q HistoryQuery) ([]OrderInfo, error)
	GetOrderDetail(ctx context.Context, orderID string) (*OrderInfo, error)
	GetBalances(ctx context.Context) (*AccountSummary, error)
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)
	GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// FatalAlerter receives alerts for failures an operator must act on.
type FatalAlerter interface {
	Alert(ctx context.Context, key, severity, message string)
}

// OrderRequest describes one order before exchange formatting.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Price         decimal.Decimal
	TriggerPrice  decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
	// PriceRounding applies to both price and trigger price.
	PriceRounding Rounding
}

// IsConditional reports whether the request is a trigger order.
func (r OrderRequest) IsConditional() bool {
	return r.Type == "STOP_LOSS" || r.Type == "TAKE_PROFIT" ||
		r.Type == "STOP_LIMIT" || r.Type == "TAKE_PROFIT_LIMIT"
}

// OrderAck is the exchange acknowledgement for a created order.
type OrderAck struct {
	OrderID       FlexString `json:"order_id"`
	ClientOrderID string     `json:"client_oid"`
	// ViaFallback is set when the order went through the order-list endpoint.
	ViaFallback bool `json:"-"`
	// Params holds the formatted values actually sent.
	Price        string `json:"-"`
	TriggerPrice string `json:"-"`
	Quantity     string `json:"-"`
}

// HistoryQuery selects one page of order history, newest first.
type HistoryQuery struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Limit  int
}

// OrderInfo is an order as the exchange reports it. Numeric fields
// are kept as strings and parsed by the mapper.
type OrderInfo struct {
	OrderID            FlexString `json:"order_id"`
	ClientOrderID      string     `json:"client_oid"`
	InstrumentName     string     `json:"instrument_name"`
	Side               string     `json:"side"`
	OrderType          string     `json:"order_type"`
	Status             string     `json:"status"`
	Price              FlexString `json:"limit_price"`
	RefPrice           FlexString `json:"ref_price"`
	Quantity           FlexString `json:"quantity"`
	CumulativeQuantity FlexString `json:"cumulative_quantity"`
	AvgPrice           FlexString `json:"avg_price"`
	CreateTime         int64      `json:"create_time"`
	UpdateTime         int64      `json:"update_time"`
}

// AccountSummary is the exchange's own view of the account.
type AccountSummary struct {
	TotalAvailableBalance FlexString        `json:"total_available_balance"`
	TotalCashBalance      FlexString        `json:"total_cash_balance"`
	PositionBalances      []PositionBalance `json:"position_balances"`
}

// PositionBalance is one currency holding.
type PositionBalance struct {
	Currency    string     `json:"instrument_name"`
	Quantity    FlexString `json:"quantity"`
	MarketValue FlexString `json:"market_value"`
	ReservedQty FlexString `json:"reserved_qty"`
}

// Instrument carries tick metadata used for order formatting.
type Instrument struct {
	Symbol           string
	BaseCurrency     string
	QuoteCurrency    string
	PriceTick        decimal.Decimal
	QtyTick          decimal.Decimal
	QuoteDecimals    int32
	QuantityDecimals int32
	Tradable         bool
}

// Candle is one OHLCV bar from the exchange.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// FlexString accepts both JSON strings and JSON numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Decimal parses the value, returning zero for empty strings.
func (f FlexString) Decimal() (decimal.Decimal, error) {
	if f == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(string(f))
}

// Int parses the value as a base-10 integer.
func (f FlexString) Int() (int64, error) {
	return strconv.ParseInt(string(f), 10, 64)
}
