// Package connectorstest provides an in-memory exchange for tests.
package connectorstest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoexecutor/src/connectors"
)

// Exchange is an in-memory connectors.Exchange. Orders are kept as the
// exchange would report them; hooks inject failures.
type Exchange struct {
	mu sync.Mutex

	Instruments map[string]*connectors.Instrument
	Tickers     map[string]decimal.Decimal
	CandleData  map[string][]connectors.Candle
	Summary     *connectors.AccountSummary

	// CreateHook runs before an order is accepted. A non-nil error rejects it.
	CreateHook func(req connectors.OrderRequest) error
	// CancelHook runs before a cancel is applied.
	CancelHook func(orderID string) error
	// CreateDelay widens race windows in concurrency tests.
	CreateDelay time.Duration
	// FillMarket fills MARKET orders immediately at the ticker price.
	FillMarket bool

	Created   []connectors.OrderRequest
	Cancelled []string
	orders    map[string]*connectors.OrderInfo
	seq       int
	now       time.Time
}

func New() *Exchange {
	return &Exchange{
		Instruments: map[string]*connectors.Instrument{
			"BTC_USDT": {
				Symbol:           "BTC_USDT",
				BaseCurrency:     "BTC",
				QuoteCurrency:    "USDT",
				PriceTick:        decimal.RequireFromString("0.01"),
				QtyTick:          decimal.RequireFromString("0.00001"),
				QuoteDecimals:    2,
				QuantityDecimals: 5,
				Tradable:         true,
			},
		},
		Tickers:    map[string]decimal.Decimal{},
		CandleData: map[string][]connectors.Candle{},
		orders:     map[string]*connectors.OrderInfo{},
		now:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (e *Exchange) ms() int64 {
	e.now = e.now.Add(time.Second)
	return e.now.UnixMilli()
}

func (e *Exchange) CreateOrder(_ context.Context, req connectors.OrderRequest) (*connectors.OrderAck, error) {
	if e.CreateDelay > 0 {
		time.Sleep(e.CreateDelay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.CreateHook != nil {
		if err := e.CreateHook(req); err != nil {
			return nil, err
		}
	}
	inst := e.Instruments[req.Symbol]
	if inst == nil {
		return nil, &connectors.ExchangeError{Method: "private/create-order", Code: 30003, Message: "symbol not found", Class: connectors.ClassFatal}
	}

	e.seq++
	id := strconv.Itoa(1000 + e.seq)
	price := connectors.Quantize(req.Price, inst.PriceTick, req.PriceRounding)
	trigger := connectors.Quantize(req.TriggerPrice, inst.PriceTick, req.PriceRounding)
	qty := connectors.Quantize(req.Quantity, inst.QtyTick, connectors.RoundDown)

	e.Created = append(e.Created, req)
	ts := e.ms()
	info := &connectors.OrderInfo{
		OrderID:        connectors.FlexString(id),
		ClientOrderID:  req.ClientOrderID,
		InstrumentName: req.Symbol,
		Side:           req.Side,
		OrderType:      req.Type,
		Status:         "ACTIVE",
		Price:          connectors.FlexString(price.String()),
		RefPrice:       connectors.FlexString(trigger.String()),
		Quantity:       connectors.FlexString(qty.String()),
		CreateTime:     ts,
		UpdateTime:     ts,
	}
	if req.Type == "MARKET" && e.FillMarket {
		fill := e.Tickers[req.Symbol]
		if fill.IsZero() {
			fill = req.Price
		}
		info.Status = "FILLED"
		info.AvgPrice = connectors.FlexString(fill.String())
		info.CumulativeQuantity = info.Quantity
	}
	e.orders[id] = info

	return &connectors.OrderAck{
		OrderID:       connectors.FlexString(id),
		ClientOrderID: req.ClientOrderID,
		Price:         price.String(),
		TriggerPrice:  trigger.String(),
		Quantity:      qty.String(),
	}, nil
}

func (e *Exchange) CancelOrder(_ context.Context, _ string, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CancelHook != nil {
		if err := e.CancelHook(orderID); err != nil {
			return err
		}
	}
	o, ok := e.orders[orderID]
	if !ok {
		return &connectors.ExchangeError{Method: "private/cancel-order", Code: 20001, Message: "order not found", Class: connectors.ClassFatal}
	}
	e.Cancelled = append(e.Cancelled, orderID)
	if o.Status != "FILLED" {
		o.Status = "CANCELED"
		o.UpdateTime = e.ms()
	}
	return nil
}

func live(status string) bool {
	return status != "FILLED" && status != "CANCELED"
}

func (e *Exchange) sorted(filter func(*connectors.OrderInfo) bool) []connectors.OrderInfo {
	var out []connectors.OrderInfo
	for _, o := range e.orders {
		if filter(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].OrderID.Int()
		b, _ := out[j].OrderID.Int()
		return a < b
	})
	return out
}

func (e *Exchange) GetOpenOrders(_ context.Context, symbol string) ([]connectors.OrderInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sorted(func(o *connectors.OrderInfo) bool {
		return live(o.Status) && (symbol == "" || o.InstrumentName == symbol)
	}), nil
}

// GetOrderHistory returns terminal orders newest first, honouring Limit
// and the End bound so callers can page backwards.
func (e *Exchange) GetOrderHistory(_ context.Context, q connectors.HistoryQuery) ([]connectors.OrderInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.sorted(func(o *connectors.OrderInfo) bool {
		if live(o.Status) || (q.Symbol != "" && o.InstrumentName != q.Symbol) {
			return false
		}
		if !q.End.IsZero() && o.UpdateTime > q.End.UnixMilli() {
			return false
		}
		return q.Start.IsZero() || o.UpdateTime >= q.Start.UnixMilli()
	})
	sort.SliceStable(all, func(i, j int) bool { return all[i].UpdateTime > all[j].UpdateTime })
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, nil
}

func (e *Exchange) GetOrderDetail(_ context.Context, orderID string) (*connectors.OrderInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return nil, &connectors.ExchangeError{Method: "private/get-order-detail", Code: 20001, Message: "order not found", Class: connectors.ClassFatal}
	}
	cp := *o
	return &cp, nil
}

func (e *Exchange) GetBalances(context.Context) (*connectors.AccountSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Summary == nil {
		return &connectors.AccountSummary{}, nil
	}
	cp := *e.Summary
	return &cp, nil
}

func (e *Exchange) GetInstrument(_ context.Context, symbol string) (*connectors.Instrument, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.Instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}
	return inst, nil
}

func (e *Exchange) GetTicker(_ context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.Tickers[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no ticker for %s", symbol)
	}
	return p, nil
}

func (e *Exchange) GetCandles(_ context.Context, symbol, _ string, limit int) ([]connectors.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.CandleData[symbol]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]connectors.Candle(nil), c...), nil
}

// Put inserts or replaces an order as the exchange reports it.
func (e *Exchange) Put(info connectors.OrderInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info.UpdateTime == 0 {
		info.UpdateTime = e.ms()
	}
	if info.CreateTime == 0 {
		info.CreateTime = info.UpdateTime
	}
	e.orders[info.OrderID.String()] = &info
}

// Fill marks an order FILLED at price.
func (e *Exchange) Fill(orderID string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return
	}
	o.Status = "FILLED"
	o.AvgPrice = connectors.FlexString(price.String())
	o.CumulativeQuantity = o.Quantity
	o.UpdateTime = e.ms()
}

// Order returns a copy of an order, or nil.
func (e *Exchange) Order(orderID string) *connectors.OrderInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

// CreatedCount is the number of accepted CreateOrder calls.
func (e *Exchange) CreatedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Created)
}

// CreatedOfType returns accepted requests with the given order type.
func (e *Exchange) CreatedOfType(typ string) []connectors.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []connectors.OrderRequest
	for _, r := range e.Created {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}
