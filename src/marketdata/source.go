// Package marketdata fetches the candles the signal worker evaluates.
package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/model"
)

// CandleSource returns the most recent candles in ascending time order.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, limit int) ([]model.Candle, error)
}

// ExchangeSource reads candles from the trading exchange.
type ExchangeSource struct {
	Exchange  connectors.Exchange
	Timeframe string
}

func (s *ExchangeSource) Candles(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	raw, err := s.Exchange.GetCandles(ctx, symbol, s.Timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("exchange candles %s: %w", symbol, err)
	}
	out := make([]model.Candle, 0, len(raw))
	for _, c := range raw {
		out = append(out, model.Candle{
			Symbol:    symbol,
			Timeframe: s.Timeframe,
			Datetime:  c.Time.UTC(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Source:    SourceExchange,
		})
	}
	sortAscending(out)
	return out, nil
}

// BinanceSource reads candles from Binance spot through goex. Symbols use
// the exchange notation BASE_QUOTE.
type BinanceSource struct {
	API       goex.API
	Timeframe string
}

func NewBinanceSource(timeframe string) *BinanceSource {
	apiConfig := &goex.APIConfig{
		HttpClient: &http.Client{Timeout: 10 * time.Second},
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return &BinanceSource{API: binance.NewWithConfig(apiConfig), Timeframe: timeframe}
}

func (s *BinanceSource) Candles(_ context.Context, symbol string, limit int) ([]model.Candle, error) {
	return s.fetch(symbol, limit)
}

// CandlesBetween reads up to limit candles opening within [start, end].
func (s *BinanceSource) CandlesBetween(_ context.Context, symbol string, start, end time.Time, limit int) ([]model.Candle, error) {
	const millis = 1000
	return s.fetch(symbol, limit, goex.OptionalParameter{}.
		Optional("startTime", start.Unix()*millis).
		Optional("endTime", end.Unix()*millis))
}

func (s *BinanceSource) fetch(symbol string, limit int, opts ...goex.OptionalParameter) ([]model.Candle, error) {
	pair, err := currencyPair(symbol)
	if err != nil {
		return nil, err
	}
	period, err := goexPeriod(s.Timeframe)
	if err != nil {
		return nil, err
	}
	klines, err := s.API.GetKlineRecords(pair, period, limit, opts...)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	out := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, model.Candle{
			Symbol:    symbol,
			Timeframe: s.Timeframe,
			Datetime:  time.Unix(k.Timestamp, 0).UTC(),
			Open:      decimal.NewFromFloat(k.Open),
			High:      decimal.NewFromFloat(k.High),
			Low:       decimal.NewFromFloat(k.Low),
			Close:     decimal.NewFromFloat(k.Close),
			Volume:    decimal.NewFromFloat(k.Vol),
			Source:    SourceBinance,
		})
	}
	sortAscending(out)
	return out, nil
}

func currencyPair(symbol string) (goex.CurrencyPair, error) {
	parts := strings.Split(symbol, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return goex.CurrencyPair{}, fmt.Errorf("symbol %q is not BASE_QUOTE", symbol)
	}
	return goex.NewCurrencyPair(goex.Currency{Symbol: parts[0]}, goex.Currency{Symbol: parts[1]}), nil
}

func goexPeriod(timeframe string) (goex.KlinePeriod, error) {
	switch timeframe {
	case "1m":
		return goex.KLINE_PERIOD_1MIN, nil
	case "5m":
		return goex.KLINE_PERIOD_5MIN, nil
	case "15m":
		return goex.KLINE_PERIOD_15MIN, nil
	case "30m":
		return goex.KLINE_PERIOD_30MIN, nil
	case "1h":
		return goex.KLINE_PERIOD_1H, nil
	case "4h":
		return goex.KLINE_PERIOD_4H, nil
	case "1D":
		return goex.KLINE_PERIOD_1DAY, nil
	}
	return 0, fmt.Errorf("unsupported timeframe %q", timeframe)
}

func sortAscending(c []model.Candle) {
	if len(c) > 1 && c[0].Datetime.After(c[len(c)-1].Datetime) {
		for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
			c[i], c[j] = c[j], c[i]
		}
	}
}

// CandleStore persists fetched candles.
type CandleStore interface {
	Upsert(ctx context.Context, candles []model.Candle) error
}

// Recording stores every batch it reads. Store failures are logged; the
// candles are still returned.
type Recording struct {
	Source CandleSource
	Store  CandleStore
}

func (r *Recording) Candles(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	candles, err := r.Source.Candles(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	if r.Store != nil {
		if err := r.Store.Upsert(ctx, candles); err != nil {
			logger.WithFields(map[string]interface{}{
				"source": "Recording",
				"symbol": symbol,
			}).WithError(err).Warn("Failed to persist candles")
		}
	}
	return candles, nil
}

// NewSource builds the configured candle source.
func NewSource(cfg Config, ex connectors.Exchange, store CandleStore) (CandleSource, error) {
	var src CandleSource
	switch cfg.Source {
	case SourceExchange, "":
		src = &ExchangeSource{Exchange: ex, Timeframe: cfg.Timeframe}
	case SourceBinance:
		src = NewBinanceSource(cfg.Timeframe)
	default:
		return nil, fmt.Errorf("unknown MARKET_DATA_SOURCE %q", cfg.Source)
	}
	return &Recording{Source: src, Store: store}, nil
}

// Closes extracts close prices.
func Closes(candles []model.Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
