// Package signals turns indicator snapshots into order eligibility, one
// persisted state row per symbol and strategy.
package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/indicators"
	"cryptoexecutor/src/model"
)

type StateStore interface {
	Get(ctx context.Context, symbol, strategyKey string) (*model.SignalState, error)
	Save(ctx context.Context, s *model.SignalState) error
}

// OpenOrderCounter reports how many entries are open for a symbol.
type OpenOrderCounter interface {
	OpenOrderCount(ctx context.Context, symbol string) (int, error)
}

const (
	ReasonWait          = "wait"
	ReasonFirstOrder    = "first_order"
	ReasonPriceMoved    = "price_moved"
	ReasonBelowThresh   = "price_change_below_threshold"
	ReasonOpenOrdersCap = "open_orders_cap"
)

type Input struct {
	Symbol      string
	StrategyKey string
	Price       decimal.Decimal
	Snapshot    indicators.Snapshot
}

type Decision struct {
	Side       string
	Eligible   bool
	Reason     string
	SignalSeq  int64
	OpenOrders int
}

// Tracker owns SignalState. The stored row is the only state; nothing is
// cached between evaluations.
type Tracker struct {
	states    StateStore
	counter   OpenOrderCounter
	rules     indicators.Rules
	threshold decimal.Decimal
	maxOpen   int
	now       func() time.Time
}

func NewTracker(states StateStore, counter OpenOrderCounter, cfg Config) *Tracker {
	return &Tracker{
		states:    states,
		counter:   counter,
		rules:     cfg.Rules,
		threshold: decimal.NewFromFloat(cfg.PriceChangeThreshold),
		maxOpen:   cfg.MaxOpenOrders,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tracker) load(ctx context.Context, symbol, strategyKey string) (*model.SignalState, error) {
	state, err := t.states.Get(ctx, symbol, strategyKey)
	if err != nil {
		return nil, fmt.Errorf("load signal state %s/%s: %w", symbol, strategyKey, err)
	}
	if state == nil {
		state = &model.SignalState{Symbol: symbol, StrategyKey: strategyKey, Side: model.SideWait}
	}
	return state, nil
}

// Evaluate records the latest signal and reports whether an order may be
// placed for it.
func (t *Tracker) Evaluate(ctx context.Context, in Input) (Decision, error) {
	side := indicators.Decide(in.Snapshot, t.rules)

	state, err := t.load(ctx, in.Symbol, in.StrategyKey)
	if err != nil {
		return Decision{}, err
	}
	if side != state.Side {
		state.SignalSeq++
		state.Side = side
	}

	open, err := t.counter.OpenOrderCount(ctx, in.Symbol)
	if err != nil {
		return Decision{}, fmt.Errorf("count open orders %s: %w", in.Symbol, err)
	}
	if open < state.OpenOrdersAtLastOrder {
		// Positions closed since the last order: start a new cycle.
		state.LastBuyOrderPrice = decimal.NullDecimal{}
		state.LastSellOrderPrice = decimal.NullDecimal{}
		state.OpenOrdersAtLastOrder = open
	}

	state.LastPrice = in.Price
	state.RSI = in.Snapshot.RSI
	state.FastMA = in.Snapshot.FastMA
	state.SlowMA = in.Snapshot.SlowMA
	state.EvaluatedAt = t.now()

	d := Decision{Side: side, SignalSeq: state.SignalSeq, OpenOrders: open}
	d.Eligible, d.Reason = t.eligible(state, side, in.Price, open)

	if err := t.states.Save(ctx, state); err != nil {
		return Decision{}, fmt.Errorf("save signal state %s/%s: %w", in.Symbol, in.StrategyKey, err)
	}

	logger.WithFields(map[string]interface{}{
		"tracker":  "signals",
		"symbol":   in.Symbol,
		"strategy": in.StrategyKey,
		"side":     side,
		"seq":      state.SignalSeq,
		"price":    in.Price.String(),
		"open":     open,
		"eligible": d.Eligible,
		"reason":   d.Reason,
	}).Debug("Signal evaluated")
	return d, nil
}

func (t *Tracker) eligible(state *model.SignalState, side string, price decimal.Decimal, open int) (bool, string) {
	if side != model.SideBuy && side != model.SideSell {
		return false, ReasonWait
	}
	if open >= t.maxOpen {
		return false, ReasonOpenOrdersCap
	}
	last := state.LastOrderPrice(side)
	if !last.Valid || !last.Decimal.IsPositive() {
		return true, ReasonFirstOrder
	}
	change := price.Sub(last.Decimal).Abs().Div(last.Decimal)
	if change.GreaterThanOrEqual(t.threshold) {
		return true, ReasonPriceMoved
	}
	return false, ReasonBelowThresh
}

// RecordOrder advances the tracked price for side after an order was
// handed to the exchange. openCount includes the new order.
func (t *Tracker) RecordOrder(ctx context.Context, symbol, strategyKey, side string, price decimal.Decimal, openCount int) error {
	state, err := t.load(ctx, symbol, strategyKey)
	if err != nil {
		return err
	}
	now := t.now()
	state.SetLastOrderPrice(side, price)
	state.OpenOrdersAtLastOrder = openCount
	state.LastOrderAt = &now
	return t.states.Save(ctx, state)
}
