package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/connectors/connectorstest"
	"cryptoexecutor/src/database/dbtest"
	"cryptoexecutor/src/model"
	"cryptoexecutor/src/repository"
)

type failingStore struct{ calls int }

func (f *failingStore) Upsert(context.Context, []model.Candle) error {
	f.calls++
	return errors.New("db down")
}

func fakeCandles(n int) []connectors.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]connectors.Candle, n)
	for i := range out {
		p := decimal.NewFromInt(int64(100 + i))
		out[i] = connectors.Candle{Time: base.Add(time.Duration(i) * 5 * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1)}
	}
	return out
}

func TestExchangeSourceMapsAndRecords(t *testing.T) {
	db := dbtest.NewSQLite(t)
	ex := connectorstest.New()
	ex.CandleData["BTC_USDT"] = fakeCandles(5)

	src, err := NewSource(Config{Source: SourceExchange, Timeframe: "5m"}, ex, repository.NewCandleRepository().WithDB(db))
	require.NoError(t, err)

	candles, err := src.Candles(context.Background(), "BTC_USDT", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, "102", candles[0].Close.String())
	assert.Equal(t, "5m", candles[0].Timeframe)
	assert.Equal(t, SourceExchange, candles[0].Source)

	stored, err := repository.NewCandleRepository().WithDB(db).ListRecent(context.Background(), "BTC_USDT", "5m", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	// A second read of overlapping candles upserts rather than duplicating.
	_, err = src.Candles(context.Background(), "BTC_USDT", 5)
	require.NoError(t, err)
	stored, err = repository.NewCandleRepository().WithDB(db).ListRecent(context.Background(), "BTC_USDT", "5m", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
	assert.Equal(t, []string{"100", "104"}, []string{stored[0].Close.String(), stored[4].Close.String()})
}

func TestRecordingIgnoresStoreFailure(t *testing.T) {
	ex := connectorstest.New()
	ex.CandleData["BTC_USDT"] = fakeCandles(2)
	store := &failingStore{}
	r := &Recording{Source: &ExchangeSource{Exchange: ex, Timeframe: "5m"}, Store: store}

	candles, err := r.Candles(context.Background(), "BTC_USDT", 10)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
	assert.Equal(t, 1, store.calls)
}

func TestNewSourceRejectsUnknown(t *testing.T) {
	_, err := NewSource(Config{Source: "ftx"}, nil, nil)
	assert.Error(t, err)
}

func TestCurrencyPairAndPeriod(t *testing.T) {
	p, err := currencyPair("BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", p.CurrencyA.Symbol)
	assert.Equal(t, "USDT", p.CurrencyB.Symbol)

	_, err = currencyPair("BTCUSDT")
	assert.Error(t, err)

	_, err = goexPeriod("5m")
	assert.NoError(t, err)
	_, err = goexPeriod("7m")
	assert.Error(t, err)
}

func TestCloses(t *testing.T) {
	c := []model.Candle{{Close: decimal.NewFromInt(1)}, {Close: decimal.NewFromInt(2)}}
	assert.Equal(t, "2", Closes(c)[1].String())
}
