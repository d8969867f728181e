// Package candles backfills stored candles from Binance so indicators can
// be replayed over history.
package candles

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/model"
	"cryptoexecutor/src/utils"
)

type rangeSource interface {
	CandlesBetween(ctx context.Context, symbol string, start, end time.Time, limit int) ([]model.Candle, error)
}

type candleStore interface {
	Upsert(ctx context.Context, candles []model.Candle) error
	LatestDatetime(ctx context.Context, symbol, timeframe string) (*time.Time, error)
}

type Backfill struct {
	Log    *logger.Entry
	Store  candleStore
	Source rangeSource
	Config *Config
	now    func() time.Time
}

// Start backfills every configured symbol. A failing symbol does not stop
// the others.
func (b *Backfill) Start(ctx context.Context) error {
	if b.now == nil {
		b.now = time.Now
	}
	if b.Log == nil {
		b.Log = logger.WithField("cmd", "candles")
	}
	var errs []error
	for _, symbol := range b.Config.Symbols {
		stored, err := b.backfillSymbol(ctx, symbol)
		if err != nil {
			b.Log.WithError(err).WithField("symbol", symbol).Error("Backfill failed")
			errs = append(errs, err)
			continue
		}
		b.Log.WithFields(logger.Fields{
			"symbol":    symbol,
			"timeframe": b.Config.Timeframe,
			"stored":    stored,
		}).Info("Backfill finished")
	}
	return errors.Join(errs...)
}

func (b *Backfill) backfillSymbol(ctx context.Context, symbol string) (int, error) {
	width, err := utils.TimeframeDuration(b.Config.Timeframe)
	if err != nil {
		return 0, err
	}
	start, err := b.determineStartPoint(ctx, symbol)
	if err != nil {
		return 0, err
	}
	end := b.Config.EndDt
	if end.IsZero() || end.After(b.now()) {
		end = b.now().UTC()
	}

	stored := 0
	for page := 0; page < b.Config.MaxPages && start.Before(end); page++ {
		batch, err := b.Source.CandlesBetween(ctx, symbol, start, end, b.Config.Limit)
		if err != nil {
			return stored, fmt.Errorf("page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		if err := b.Store.Upsert(ctx, batch); err != nil {
			return stored, err
		}
		stored += len(batch)

		next := batch[len(batch)-1].Datetime.Add(width)
		if len(batch) < b.Config.Limit || !next.After(start) {
			break
		}
		start = next
	}
	return stored, nil
}

// determineStartPoint resumes from the newest stored candle in auto mode,
// re-reading it since it may have been stored before it closed.
func (b *Backfill) determineStartPoint(ctx context.Context, symbol string) (time.Time, error) {
	start := utils.ResetTime(b.Config.StartDt, b.Config.Timeframe)
	if !b.Config.AutoMode {
		return start, nil
	}
	latest, err := b.Store.LatestDatetime(ctx, symbol, b.Config.Timeframe)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil {
		b.Log.WithFields(logger.Fields{
			"symbol":  symbol,
			"StartDt": start.String(),
		}).Info("No stored candles, starting from the configured date")
		return start, nil
	}
	if latest.After(start) {
		start = *latest
	}
	return start, nil
}
