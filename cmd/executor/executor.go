package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"cryptoexecutor/src/alerts"
	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/database"
	"cryptoexecutor/src/executors"
	"cryptoexecutor/src/handler"
	"cryptoexecutor/src/intents"
	"cryptoexecutor/src/marketdata"
	"cryptoexecutor/src/oco"
	"cryptoexecutor/src/reconcile"
	"cryptoexecutor/src/repository"
	"cryptoexecutor/src/risk"
	"cryptoexecutor/src/security"
	"cryptoexecutor/src/server"
	"cryptoexecutor/src/signals"
)

const (
	WorkerSignals   = "signals"
	WorkerReconcile = "reconcile"
	WorkerAudit     = "audit"
)

// App holds every wired component of the bot.
type App struct {
	Settings      Settings
	Exchange      connectors.Exchange
	Dispatcher    *alerts.Dispatcher
	Exceptions    *repository.ExceptionRepository
	Orders        *repository.ExchangeOrderRepository
	Intents       *repository.IntentRepository
	Balances      *repository.BalanceRepository
	Candles       *repository.CandleRepository
	Notifications *repository.NotificationRepository
	Engine        *oco.Engine
	Manager       *intents.Manager
	Runner        *signals.Runner
	Reconciler    *reconcile.Service
	// Stream, when set, wakes the reconcile worker on order updates.
	Stream orderStream
}

type orderStream interface {
	Listen(ctx context.Context, wake chan<- struct{}) error
}

// ExchangeFactory builds the exchange client once the alert dispatcher
// exists, so fatal exchange errors reach the operator.
type ExchangeFactory func(s Settings, alerter connectors.FatalAlerter) (connectors.Exchange, error)

// revealCredentials opens the API key and secret, which may be sealed.
func revealCredentials(s Settings) (key, secret string, err error) {
	key, err = security.Reveal(s.Security, s.Exchange.APIKey)
	if err != nil {
		return "", "", fmt.Errorf("api key: %w", err)
	}
	secret, err = security.Reveal(s.Security, s.Exchange.APISecret)
	if err != nil {
		return "", "", fmt.Errorf("api secret: %w", err)
	}
	if key == "" || secret == "" {
		return "", "", errors.New("EXCHANGE_API_KEY and EXCHANGE_API_SECRET are required")
	}
	return key, secret, nil
}

// NewCryptoComExchange opens the sealed API credentials and builds the
// signed REST client.
func NewCryptoComExchange(s Settings, alerter connectors.FatalAlerter) (connectors.Exchange, error) {
	key, secret, err := revealCredentials(s)
	if err != nil {
		return nil, err
	}
	return connectors.NewClient(key, secret, s.Exchange, alerter), nil
}

// Wire builds the App on db. notifier receives every alert and fill event.
func Wire(db *gorm.DB, s Settings, notifier alerts.Notifier, newExchange ExchangeFactory) (*App, error) {
	a := &App{
		Settings:      s,
		Exceptions:    repository.NewExceptionRepository().WithDB(db),
		Orders:        repository.NewExchangeOrderRepository().WithDB(db),
		Intents:       repository.NewIntentRepository().WithDB(db),
		Balances:      repository.NewBalanceRepository().WithDB(db),
		Candles:       repository.NewCandleRepository().WithDB(db),
		Notifications: repository.NewNotificationRepository().WithDB(db),
	}
	a.Dispatcher = alerts.NewDispatcher(a.Notifications, notifier, s.Alerts.FatalAlertInterval)
	if intentWindowsOverlap(s) {
		logrus.WithFields(logrus.Fields{
			"intent_ttl":   s.Intents.TTL.String(),
			"intent_grace": s.Reconcile.IntentGrace.String(),
		}).Warn("INTENT_TTL is not below INTENT_GRACE; stale intents will be failed by reconciliation instead of expired")
	}

	ex, err := newExchange(s, a.Dispatcher)
	if err != nil {
		return nil, err
	}
	a.Exchange = ex

	a.Engine = oco.NewEngine(s.OCO, ex, a.Orders, a.Dispatcher)
	a.Manager = intents.NewManager(s.Intents, ex, a.Intents, a.Orders, a.Balances, a.Dispatcher).
		WithSizer(risk.NewSessionSizer(s.Risk))

	source, err := marketdata.NewSource(s.MarketData, ex, a.Candles)
	if err != nil {
		return nil, err
	}
	counter := signals.StoreCounter{Intents: a.Intents, Orders: a.Orders}
	tracker := signals.NewTracker(repository.NewSignalStateRepository().WithDB(db), counter, s.Signals)
	a.Runner = signals.NewRunner(s.Signals, source, tracker, a.Manager, counter)

	a.Reconciler = reconcile.NewService(s.Reconcile, ex, a.Orders, a.Intents, a.Balances, a.Engine, a.Dispatcher, a.Dispatcher)
	return a, nil
}

// Build connects to the main database and wires the production App.
func Build() (*App, error) {
	if err := database.InitMainDB(); err != nil {
		return nil, err
	}
	s := LoadSettings()
	app, err := Wire(database.MainDB, s, alerts.NewNotifierFromConfig(s.Alerts), NewCryptoComExchange)
	if err != nil {
		return nil, err
	}
	if s.Exchange.OrderStream {
		key, secret, err := revealCredentials(s)
		if err != nil {
			return nil, err
		}
		app.Stream = connectors.NewOrderStream(key, secret, s.Exchange, s.Reconcile.Symbols)
	}
	return app, nil
}

// CaptureCycleError persists a failed worker cycle as an exception.
func (a *App) CaptureCycleError(ctx context.Context, worker string, err error) {
	alerts.Capture(ctx, a.Exceptions, "cryptoexecutor", "executors", worker, "error", err, nil)
}

// Workers returns the periodic workers named in names. A nil names
// selects all of them.
func (a *App) Workers(names []string) []executors.Worker {
	all := []executors.Worker{
		{Name: WorkerSignals, Period: a.Settings.Loops.SignalPeriod, Run: a.Runner.RunOnce},
		{Name: WorkerReconcile, Period: a.Settings.Loops.ReconcilePeriod, Run: func(ctx context.Context) error {
			_, err := a.Reconciler.RunCycle(ctx)
			return err
		}},
		{Name: WorkerAudit, Period: a.Settings.Loops.AuditPeriod, Run: func(ctx context.Context) error {
			_, err := a.Reconciler.RunAudit(ctx)
			return err
		}},
	}
	if names == nil {
		return all
	}
	var out []executors.Worker
	for _, w := range all {
		for _, n := range names {
			if w.Name == n {
				out = append(out, w)
			}
		}
	}
	return out
}

// Router serves health, metrics and the operator audit.
func (a *App) Router() http.Handler {
	return server.NewRouter(a.Settings.Server, server.Routes{
		Audit: handler.AuditHandler(a.Reconciler),
	})
}

// Executor runs the selected workers, plus the HTTP server when Serve is
// set, until SIGINT or SIGTERM. Once runs a single cycle of each worker
// and returns.
type Executor struct {
	Workers []string
	Serve   bool
	Once    bool
}

func (t *Executor) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	app, err := Build()
	if err != nil {
		logrus.WithError(err).Error("Failed to build executor")
		return err
	}
	if t.Once {
		return app.RunOnce(ctx, t.Workers)
	}
	return app.Run(ctx, t.Serve, t.Workers)
}

// Run blocks until ctx is done. Cycle failures are persisted through
// CaptureCycleError.
func (a *App) Run(ctx context.Context, serve bool, names []string) error {
	executors.OnCycleError = a.CaptureCycleError

	workers := a.Workers(names)
	a.attachStream(ctx, workers)
	logrus.WithFields(logrus.Fields{
		"workers": len(workers),
		"serve":   serve,
	}).Info("Starting executor")

	serverErr := make(chan error, 1)
	if serve {
		go func() {
			serverErr <- server.StartServer(ctx, a.Settings.Server.Port, a.Router())
		}()
	} else {
		serverErr <- nil
	}

	loopErr := executors.RunAll(ctx, workers...)
	return errors.Join(loopErr, <-serverErr)
}

// attachStream starts the order stream when the reconcile worker is among
// workers. The stream stops with ctx.
func (a *App) attachStream(ctx context.Context, workers []executors.Worker) {
	if a.Stream == nil {
		return
	}
	for i := range workers {
		if workers[i].Name != WorkerReconcile {
			continue
		}
		wake := make(chan struct{}, 1)
		workers[i].Wake = wake
		go func() {
			if err := a.Stream.Listen(ctx, wake); err != nil {
				logrus.WithError(err).Error("Order stream stopped")
			}
		}()
		return
	}
}

// RunOnce runs one cycle of each selected worker in order and reports
// every failure.
func (a *App) RunOnce(ctx context.Context, names []string) error {
	var errs []error
	for _, w := range a.Workers(names) {
		if err := w.Run(ctx); err != nil {
			a.CaptureCycleError(ctx, w.Name, err)
			errs = append(errs, fmt.Errorf("%s: %w", w.Name, err))
		}
	}
	return errors.Join(errs...)
}
