package signals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/indicators"
	"cryptoexecutor/src/intents"
	"cryptoexecutor/src/marketdata"
	"cryptoexecutor/src/metrics"
	"cryptoexecutor/src/model"
)

type Submitter interface {
	Submit(ctx context.Context, req intents.Request) (*model.OrderIntent, error)
}

// Runner is one pass of the signal worker.
type Runner struct {
	cfg     Config
	source  marketdata.CandleSource
	tracker *Tracker
	submit  Submitter
	counter OpenOrderCounter
}

func NewRunner(cfg Config, source marketdata.CandleSource, tracker *Tracker, submit Submitter, counter OpenOrderCounter) *Runner {
	return &Runner{cfg: cfg, source: source, tracker: tracker, submit: submit, counter: counter}
}

// RunOnce evaluates every configured symbol in turn. A failing symbol is
// logged and does not stop the others.
func (r *Runner) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer metrics.ObserveCycle("signals", start)

	log := logger.WithFields(map[string]interface{}{
		"worker":   "signals",
		"cycle_id": uuid.NewString(),
	})

	var errs []error
	for _, symbol := range r.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runSymbol(ctx, symbol, log.WithField("symbol", symbol)); err != nil {
			log.WithError(err).WithField("symbol", symbol).Error("Signal evaluation failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) runSymbol(ctx context.Context, symbol string, log *logger.Entry) error {
	candles, err := r.source.Candles(ctx, symbol, r.cfg.CandleLimit)
	if err != nil {
		return err
	}
	snapshot, err := indicators.Compute(marketdata.Closes(candles), r.cfg.Rules)
	if errors.Is(err, indicators.ErrNotEnoughData) {
		log.WithField("candles", len(candles)).Warn("Not enough candles, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	decision, err := r.tracker.Evaluate(ctx, Input{
		Symbol:      symbol,
		StrategyKey: r.cfg.StrategyKey,
		Price:       snapshot.Price,
		Snapshot:    snapshot,
	})
	if err != nil {
		return err
	}
	metrics.IncSignal(symbol, decision.Side)
	metrics.SetOpenOrders(symbol, decision.OpenOrders)

	if !decision.Eligible {
		log.WithFields(map[string]interface{}{
			"side":   decision.Side,
			"reason": decision.Reason,
		}).Debug("No order")
		return nil
	}

	intent, err := r.submit.Submit(ctx, intents.Request{
		Symbol:      symbol,
		Side:        decision.Side,
		Price:       snapshot.Price,
		StrategyKey: r.cfg.StrategyKey,
		SignalSeq:   decision.SignalSeq,
		Source:      model.IntentSourceSignal,
	})
	if errors.Is(err, intents.ErrNoBalance) || errors.Is(err, intents.ErrZeroQuantity) {
		log.WithError(err).Info("Order skipped")
		return nil
	}
	if err != nil {
		return err
	}

	log = log.WithFields(map[string]interface{}{
		"intent_id": intent.ID,
		"status":    intent.Status,
		"side":      decision.Side,
	})
	if intent.Status != model.IntentFilledUpstream {
		log.WithField("error", intent.LastError).Warn("Order not placed")
		return nil
	}

	open, err := r.counter.OpenOrderCount(ctx, symbol)
	if err != nil {
		return err
	}
	if err := r.tracker.RecordOrder(ctx, symbol, r.cfg.StrategyKey, decision.Side, snapshot.Price, open); err != nil {
		return err
	}
	log.Info("Order placed for signal")
	return nil
}
