package executors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualTicker lets a test decide when the loop ticks.
func manualTicker(t *testing.T) chan time.Time {
	ch := make(chan time.Time)
	old := newTicker
	newTicker = func(time.Duration) (<-chan time.Time, func()) { return ch, func() {} }
	t.Cleanup(func() { newTicker = old })
	return ch
}

func captureErrors(t *testing.T) *[]error {
	var mu sync.Mutex
	var got []error
	old := OnCycleError
	OnCycleError = func(_ context.Context, _ string, err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	}
	t.Cleanup(func() { OnCycleError = old })
	return &got
}

func TestStartLoopRunsImmediatelyAndOnTick(t *testing.T) {
	tick := manualTicker(t)
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	done := make(chan error, 1)
	go func() {
		done <- StartLoop(ctx, "test", time.Second, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}()

	tick <- time.Now()
	tick <- time.Now()
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestStartLoopSurvivesErrorsAndPanics(t *testing.T) {
	tick := manualTicker(t)
	errs := captureErrors(t)
	ctx, cancel := context.WithCancel(context.Background())
	var n int32
	done := make(chan error, 1)
	go func() {
		done <- StartLoop(ctx, "flaky", time.Second, func(context.Context) error {
			switch atomic.AddInt32(&n, 1) {
			case 1:
				return errors.New("exchange down")
			case 2:
				panic("nil map")
			}
			return nil
		})
	}()

	tick <- time.Now()
	tick <- time.Now()
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), atomic.LoadInt32(&n))
	require.Len(t, *errs, 2)
	assert.EqualError(t, (*errs)[0], "exchange down")
	assert.Contains(t, (*errs)[1].Error(), "panic: nil map")
}

func TestStartLoopRejectsBadPeriod(t *testing.T) {
	err := StartLoop(context.Background(), "bad", 0, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestRunAllStopsEveryWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var a, b int32
	done := make(chan error, 1)
	go func() {
		done <- RunAll(ctx,
			Worker{Name: "a", Period: time.Hour, Run: func(context.Context) error { atomic.AddInt32(&a, 1); return nil }},
			Worker{Name: "b", Period: time.Hour, Run: func(context.Context) error { atomic.AddInt32(&b, 1); return nil }},
		)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&a) == 1 && atomic.LoadInt32(&b) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestRunAllWakesWorkerEarly(t *testing.T) {
	manualTicker(t)
	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	var calls int32
	done := make(chan error, 1)
	go func() {
		done <- RunAll(ctx, Worker{
			Name:   "reconcile",
			Period: time.Hour,
			Run:    func(context.Context) error { atomic.AddInt32(&calls, 1); return nil },
			Wake:   wake,
		})
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	wake <- struct{}{}
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
