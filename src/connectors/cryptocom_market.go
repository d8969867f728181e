package connectors

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/utils"
)

type instrumentPayload struct {
	Data []struct {
		Symbol           string     `json:"symbol"`
		BaseCcy          string     `json:"base_ccy"`
		QuoteCcy         string     `json:"quote_ccy"`
		QuoteDecimals    int32      `json:"quote_decimals"`
		QuantityDecimals int32      `json:"quantity_decimals"`
		PriceTickSize    FlexString `json:"price_tick_size"`
		QtyTickSize      FlexString `json:"qty_tick_size"`
		Tradable         bool       `json:"tradable"`
	} `json:"data"`
}

// GetInstrument returns tick metadata from a read-through cache that is
// refreshed as a whole once older than the configured TTL.
func (c *Client) GetInstrument(ctx context.Context, symbol string) (*Instrument, error) {
	c.mu.RLock()
	inst, ok := c.instruments[symbol]
	fresh := c.instrumentTTL <= 0 || c.now().Sub(c.instrumentsAt) < c.instrumentTTL
	c.mu.RUnlock()
	if ok && fresh {
		return &inst, nil
	}

	if err := c.refreshInstruments(ctx); err != nil {
		if ok {
			logger.WithError(err).WithField("symbol", symbol).Warn("instrument refresh failed, using cached metadata")
			return &inst, nil
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok = c.instruments[symbol]
	if !ok {
		return nil, &ExchangeError{Method: methodInstruments, Message: fmt.Sprintf("instrument %s not found", symbol), Class: ClassFatal}
	}
	return &inst, nil
}

func (c *Client) refreshInstruments(ctx context.Context) error {
	var res instrumentPayload
	if err := c.publicCall(ctx, methodInstruments, nil, &res); err != nil {
		return err
	}

	fresh := make(map[string]Instrument, len(res.Data))
	for _, d := range res.Data {
		priceTick, err := d.PriceTickSize.Decimal()
		if err != nil {
			logger.WithError(err).WithField("symbol", d.Symbol).Warn("invalid price tick size, skipping instrument")
			continue
		}
		qtyTick, err := d.QtyTickSize.Decimal()
		if err != nil {
			logger.WithError(err).WithField("symbol", d.Symbol).Warn("invalid quantity tick size, skipping instrument")
			continue
		}
		fresh[d.Symbol] = Instrument{
			Symbol:           d.Symbol,
			BaseCurrency:     d.BaseCcy,
			QuoteCurrency:    d.QuoteCcy,
			PriceTick:        priceTick,
			QtyTick:          qtyTick,
			QuoteDecimals:    d.QuoteDecimals,
			QuantityDecimals: d.QuantityDecimals,
			Tradable:         d.Tradable,
		}
	}

	c.mu.Lock()
	c.instruments = fresh
	c.instrumentsAt = c.now()
	c.mu.Unlock()
	return nil
}

type tickerPayload struct {
	Data []struct {
		Instrument string     `json:"i"`
		Last       FlexString `json:"a"`
	} `json:"data"`
}

// GetTicker returns the latest trade price.
func (c *Client) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var res tickerPayload
	if err := c.publicCall(ctx, methodTickers, map[string]string{"instrument_name": symbol}, &res); err != nil {
		return decimal.Zero, err
	}
	for _, t := range res.Data {
		if t.Instrument == symbol || len(res.Data) == 1 {
			return t.Last.Decimal()
		}
	}
	return decimal.Zero, &ExchangeError{Method: methodTickers, Message: fmt.Sprintf("no ticker for %s", symbol), Class: ClassRetryable}
}

type candlePayload struct {
	Data []struct {
		O FlexString `json:"o"`
		H FlexString `json:"h"`
		L FlexString `json:"l"`
		C FlexString `json:"c"`
		V FlexString `json:"v"`
		T int64      `json:"t"`
	} `json:"data"`
}

// GetCandles returns up to limit candles, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	query := map[string]string{
		"instrument_name": symbol,
		"timeframe":       timeframe,
	}
	if limit > 0 {
		query["count"] = strconv.Itoa(limit)
	}
	var res candlePayload
	if err := c.publicCall(ctx, methodCandlestick, query, &res); err != nil {
		return nil, err
	}

	out := make([]Candle, 0, len(res.Data))
	for _, d := range res.Data {
		var candle Candle
		var err error
		candle.Time = utils.UnixMillis(d.T)
		if candle.Open, err = d.O.Decimal(); err != nil {
			return nil, fmt.Errorf("parse candle open: %w", err)
		}
		if candle.High, err = d.H.Decimal(); err != nil {
			return nil, fmt.Errorf("parse candle high: %w", err)
		}
		if candle.Low, err = d.L.Decimal(); err != nil {
			return nil, fmt.Errorf("parse candle low: %w", err)
		}
		if candle.Close, err = d.C.Decimal(); err != nil {
			return nil, fmt.Errorf("parse candle close: %w", err)
		}
		if candle.Volume, err = d.V.Decimal(); err != nil {
			return nil, fmt.Errorf("parse candle volume: %w", err)
		}
		out = append(out, candle)
	}
	return out, nil
}
