package signals

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoexecutor/src/database/dbtest"
	"cryptoexecutor/src/indicators"
	"cryptoexecutor/src/intents"
	"cryptoexecutor/src/model"
	"cryptoexecutor/src/repository"
)

type fixedCounter struct{ n int }

func (c *fixedCounter) OpenOrderCount(context.Context, string) (int, error) { return c.n, nil }

var (
	buySnap  = indicators.Snapshot{RSI: 30, FastMA: 2, SlowMA: 1}
	sellSnap = indicators.Snapshot{RSI: 80, FastMA: 1, SlowMA: 2}
	waitSnap = indicators.Snapshot{RSI: 50, FastMA: 1, SlowMA: 2}
)

func testConfig() Config {
	return Config{
		Symbols:              []string{"BTC_USDT"},
		StrategyKey:          "rsi_ma",
		PriceChangeThreshold: 0.03,
		MaxOpenOrders:        3,
		CandleLimit:          50,
		Rules:                indicators.DefaultRules(),
	}
}

func newTracker(t *testing.T) (*Tracker, *fixedCounter, *repository.SignalStateRepository) {
	db := dbtest.NewSQLite(t)
	states := repository.NewSignalStateRepository().WithDB(db)
	counter := &fixedCounter{}
	return NewTracker(states, counter, testConfig()), counter, states
}

func eval(t *testing.T, tr *Tracker, price int64, snap indicators.Snapshot) Decision {
	t.Helper()
	d, err := tr.Evaluate(context.Background(), Input{
		Symbol:      "BTC_USDT",
		StrategyKey: "rsi_ma",
		Price:       decimal.NewFromInt(price),
		Snapshot:    snap,
	})
	require.NoError(t, err)
	return d
}

func record(t *testing.T, tr *Tracker, c *fixedCounter, side string, price int64) {
	t.Helper()
	c.n++
	require.NoError(t, tr.RecordOrder(context.Background(), "BTC_USDT", "rsi_ma", side, decimal.NewFromInt(price), c.n))
}

func TestFirstSignalIsEligible(t *testing.T) {
	tr, _, states := newTracker(t)
	d := eval(t, tr, 100000, buySnap)
	assert.True(t, d.Eligible)
	assert.Equal(t, ReasonFirstOrder, d.Reason)
	assert.Equal(t, int64(1), d.SignalSeq)

	s, err := states.Get(context.Background(), "BTC_USDT", "rsi_ma")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, model.SideBuy, s.Side)
	assert.Equal(t, 30.0, s.RSI)
}

func TestPriceThresholdScenario(t *testing.T) {
	tr, c, _ := newTracker(t)
	require.True(t, eval(t, tr, 100000, buySnap).Eligible)
	record(t, tr, c, model.SideBuy, 100000)

	d := eval(t, tr, 102000, buySnap)
	assert.False(t, d.Eligible)
	assert.Equal(t, ReasonBelowThresh, d.Reason)

	assert.False(t, eval(t, tr, 102999, buySnap).Eligible)

	d = eval(t, tr, 103000, buySnap)
	assert.True(t, d.Eligible, "a 3 percent move is enough")
	assert.Equal(t, ReasonPriceMoved, d.Reason)

	assert.True(t, eval(t, tr, 97000, buySnap).Eligible, "moves in either direction count")
}

func TestWaitDoesNotResetTrackedPrice(t *testing.T) {
	tr, c, states := newTracker(t)
	require.True(t, eval(t, tr, 100000, buySnap).Eligible)
	record(t, tr, c, model.SideBuy, 100000)

	w := eval(t, tr, 100500, waitSnap)
	assert.False(t, w.Eligible)
	assert.Equal(t, ReasonWait, w.Reason)

	d := eval(t, tr, 101000, buySnap)
	assert.False(t, d.Eligible, "returning to BUY after WAIT must not re-enable ordering")

	s, err := states.Get(context.Background(), "BTC_USDT", "rsi_ma")
	require.NoError(t, err)
	require.True(t, s.LastBuyOrderPrice.Valid)
	assert.Equal(t, "100000", s.LastBuyOrderPrice.Decimal.String())
	assert.Equal(t, int64(3), s.SignalSeq, "BUY -> WAIT -> BUY")
}

func TestSidesAreTrackedSeparately(t *testing.T) {
	tr, c, _ := newTracker(t)
	require.True(t, eval(t, tr, 100000, buySnap).Eligible)
	record(t, tr, c, model.SideBuy, 100000)

	d := eval(t, tr, 100500, sellSnap)
	assert.True(t, d.Eligible)
	assert.Equal(t, ReasonFirstOrder, d.Reason)
}

func TestOpenOrderCap(t *testing.T) {
	tr, c, _ := newTracker(t)
	c.n = 3
	d := eval(t, tr, 100000, buySnap)
	assert.False(t, d.Eligible)
	assert.Equal(t, ReasonOpenOrdersCap, d.Reason)

	c.n = 2
	assert.True(t, eval(t, tr, 100000, buySnap).Eligible)
}

func TestOpenCountDropStartsNewCycle(t *testing.T) {
	tr, c, states := newTracker(t)
	require.True(t, eval(t, tr, 100000, buySnap).Eligible)
	record(t, tr, c, model.SideBuy, 100000)
	assert.False(t, eval(t, tr, 100500, buySnap).Eligible)

	// The protected entry resolved.
	c.n = 0
	d := eval(t, tr, 100500, buySnap)
	assert.True(t, d.Eligible)
	assert.Equal(t, ReasonFirstOrder, d.Reason)

	s, err := states.Get(context.Background(), "BTC_USDT", "rsi_ma")
	require.NoError(t, err)
	assert.False(t, s.LastBuyOrderPrice.Valid)
	assert.Equal(t, 0, s.OpenOrdersAtLastOrder)
}

type fakeSource struct{ closes []int64 }

func (f *fakeSource) Candles(_ context.Context, symbol string, _ int) ([]model.Candle, error) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, len(f.closes))
	for i, c := range f.closes {
		out[i] = model.Candle{Symbol: symbol, Datetime: base.Add(time.Duration(i) * time.Minute), Close: decimal.NewFromInt(c)}
	}
	return out, nil
}

type fakeSubmitter struct {
	reqs    []intents.Request
	counter *fixedCounter
}

func (f *fakeSubmitter) Submit(_ context.Context, req intents.Request) (*model.OrderIntent, error) {
	f.reqs = append(f.reqs, req)
	if f.counter != nil {
		f.counter.n++
	}
	return &model.OrderIntent{ID: uint(len(f.reqs)), Status: model.IntentFilledUpstream}, nil
}

func uptrend() []int64 {
	var closes []int64
	for i := 0; i < 30; i++ {
		closes = append(closes, 100000+int64(i)*10)
	}
	return closes
}

func TestRunnerSubmitsEligibleSignalOnce(t *testing.T) {
	db := dbtest.NewSQLite(t)
	states := repository.NewSignalStateRepository().WithDB(db)
	counter := &fixedCounter{}
	cfg := testConfig()
	// Any rising market is a BUY under these rules.
	cfg.Rules.RSIBuyBelow = 101
	cfg.Rules.RSISellAbove = 101
	tr := NewTracker(states, counter, cfg)
	sub := &fakeSubmitter{counter: counter}
	src := &fakeSource{closes: uptrend()}

	runner := NewRunner(cfg, src, tr, sub, counter)
	require.NoError(t, runner.RunOnce(context.Background()))
	require.Len(t, sub.reqs, 1)
	assert.Equal(t, model.SideBuy, sub.reqs[0].Side)
	assert.Equal(t, "rsi_ma", sub.reqs[0].StrategyKey)

	require.NoError(t, runner.RunOnce(context.Background()))
	assert.Len(t, sub.reqs, 1, "same price must not submit again")

	s, err := states.Get(context.Background(), "BTC_USDT", "rsi_ma")
	require.NoError(t, err)
	require.True(t, s.LastBuyOrderPrice.Valid)
	assert.Equal(t, 1, s.OpenOrdersAtLastOrder)
}

func TestRunnerSkipsWhenNotEnoughCandles(t *testing.T) {
	db := dbtest.NewSQLite(t)
	counter := &fixedCounter{}
	tr := NewTracker(repository.NewSignalStateRepository().WithDB(db), counter, testConfig())
	sub := &fakeSubmitter{}
	runner := NewRunner(testConfig(), &fakeSource{closes: []int64{1, 2, 3}}, tr, sub, counter)
	require.NoError(t, runner.RunOnce(context.Background()))
	assert.Empty(t, sub.reqs)
}

func TestStoreCounterAddsPendingAndExposure(t *testing.T) {
	db := dbtest.NewSQLite(t)
	ctx := context.Background()
	intentRepo := repository.NewIntentRepository().WithDB(db)
	orderRepo := repository.NewExchangeOrderRepository().WithDB(db)

	require.NoError(t, intentRepo.Create(ctx, &model.OrderIntent{
		IdempotencyKey: "k1", ClientOrderID: "c1", Symbol: "BTC_USDT", Side: model.SideBuy,
		OrderType: model.OrderTypeMarket, Status: model.IntentPending,
	}))
	role := model.OrderRoleParent
	require.NoError(t, orderRepo.Create(ctx, &model.ExchangeOrder{
		OrderID: "1", Symbol: "BTC_USDT", Side: model.SideBuy, Status: model.OrderStatusFilled,
		OrderRole: &role, ProtectionState: model.ProtectionProtected,
	}))
	require.NoError(t, orderRepo.Create(ctx, &model.ExchangeOrder{
		OrderID: "2", Symbol: "BTC_USDT", Side: model.SideBuy, Status: model.OrderStatusFilled,
		OrderRole: &role, ProtectionState: model.ProtectionResolved,
	}))

	n, err := StoreCounter{Intents: intentRepo, Orders: orderRepo}.OpenOrderCount(ctx, "BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
