package executors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Worker is one periodic job. A receive on Wake runs an extra cycle
// without waiting for the next tick; nil never wakes.
type Worker struct {
	Name   string
	Period time.Duration
	Run    func(ctx context.Context) error
	Wake   <-chan struct{}
}

// OnCycleError receives cycle failures and recovered panics. The command
// wiring points it at the exception store.
var OnCycleError = func(ctx context.Context, worker string, err error) {
	logger.WithField("worker", worker).WithError(err).Error("Worker cycle failed")
}

var newTicker = func(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func runCycle(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %+v", r)
		}
	}()
	return fn(ctx)
}

// StartLoop runs fn once immediately and then on every tick until ctx is
// cancelled. A failing cycle is reported and the loop keeps going.
func StartLoop(ctx context.Context, name string, period time.Duration, fn func(ctx context.Context) error) error {
	return startLoop(ctx, Worker{Name: name, Period: period, Run: fn})
}

func startLoop(ctx context.Context, w Worker) error {
	name, period, fn := w.Name, w.Period, w.Run
	if period <= 0 {
		return fmt.Errorf("worker %s: period must be positive", name)
	}
	tick, stop := newTicker(period)
	defer stop()

	log := logger.WithFields(map[string]interface{}{
		"worker": name,
		"period": period.String(),
	})
	log.Info("loop started")

	for {
		if err := runCycle(ctx, name, fn); err != nil && !errors.Is(err, context.Canceled) {
			OnCycleError(ctx, name, err)
		}
		select {
		case <-ctx.Done():
			log.Info("loop stopped")
			return nil
		case <-tick:
		case <-w.Wake:
			log.Debug("woken early")
		}
	}
}

// RunAll starts every worker on its own goroutine and waits for all of
// them to stop. Workers share nothing but ctx.
func RunAll(ctx context.Context, workers ...Worker) error {
	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w Worker) {
			defer wg.Done()
			errs[i] = startLoop(ctx, w)
		}(i, w)
	}
	wg.Wait()
	return errors.Join(errs...)
}
