package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"cryptoexecutor/cmd/candles"
	"cryptoexecutor/cmd/executor"
	"cryptoexecutor/cmd/keys"
	"cryptoexecutor/src/database"
	"cryptoexecutor/src/intents"
	"cryptoexecutor/src/marketdata"
	"cryptoexecutor/src/model"
	"cryptoexecutor/src/repository"
	"cryptoexecutor/src/security"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "cryptoexecutor"
	app.Usage = "Signal driven spot trading bot with OCO protection and reconciliation"
	app.Version = Version
	app.Before = func(*cli.Context) error {
		loadDotEnv()
		SetupLogger()
		return nil
	}

	app.Commands = []cli.Command{
		runCMD,
		signalsCMD,
		reconcileCMD,
		auditCMD,
		serverCMD,
		intentCMD,
		keysCMD,
		candlesCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadDotEnv reads a local .env when present. Real environment variables
// win over the file.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to read .env")
	}
}

func SetupLogger() {
	config := database.GetConfig()

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

var onceFlag = cli.BoolFlag{
	Name:  "once",
	Usage: "run a single cycle and exit",
}

var (
	runCMD = cli.Command{
		Name:   "run",
		Usage:  "run every worker and the HTTP server",
		Action: runAction,
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "no-server", Usage: "do not start the HTTP server"},
		},
		Description: `Run the signal, reconcile and audit workers until interrupted`,
	}
	signalsCMD = cli.Command{
		Name:        "signals",
		Usage:       "run the signal worker",
		Action:      workerAction(executor.WorkerSignals),
		Flags:       []cli.Flag{onceFlag},
		Description: `Evaluate indicators and submit order intents`,
	}
	reconcileCMD = cli.Command{
		Name:        "reconcile",
		Usage:       "run the reconcile worker",
		Action:      workerAction(executor.WorkerReconcile),
		Flags:       []cli.Flag{onceFlag},
		Description: `Sync balances and orders, protect fills, check drift`,
	}
	auditCMD = cli.Command{
		Name:        "audit",
		Usage:       "run the audit worker",
		Action:      workerAction(executor.WorkerAudit),
		Flags:       []cli.Flag{onceFlag},
		Description: `Check OCO groups, stale intents and drift`,
	}
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "serve health, metrics and operator endpoints only",
		Action:      serverAction,
		Description: `Run the HTTP server without workers`,
	}
	intentCMD = cli.Command{
		Name:  "intent",
		Usage: "manage order intents",
		Subcommands: []cli.Command{
			{
				Name:   "submit",
				Usage:  "submit a manual order intent",
				Action: intentSubmitAction,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "symbol", Value: "BTC_USDT"},
					cli.StringFlag{Name: "side", Usage: "BUY or SELL"},
					cli.StringFlag{Name: "type", Value: model.OrderTypeMarket, Usage: "MARKET or LIMIT"},
					cli.StringFlag{Name: "price", Usage: "reference or limit price"},
					cli.StringFlag{Name: "quantity", Usage: "base quantity, sized from balance when empty"},
					cli.StringFlag{Name: "ref", Usage: "operator reference, makes the request idempotent"},
				},
			},
		},
	}
	keysCMD = cli.Command{
		Name:  "keys",
		Usage: "manage sealed exchange credentials",
		Subcommands: []cli.Command{
			{
				Name:   "newkey",
				Usage:  "print a fresh EXCHANGE_CREDENTIALS_KEY",
				Action: func(*cli.Context) error { return keys.Generate(os.Stdout) },
			},
			{
				Name:   "seal",
				Usage:  "seal each line read from stdin",
				Action: func(*cli.Context) error { return keys.Seal(security.GetConfig(), os.Stdin, os.Stdout) },
			},
		},
	}
	candlesCMD = cli.Command{
		Name:        "candles",
		Usage:       "backfill candles from Binance",
		Action:      candlesAction,
		Description: `Store historical candles for every configured symbol`,
	}
)

func runAction(c *cli.Context) error {
	logrus.Info("Starting executor CMD")

	e := &executor.Executor{Serve: !c.Bool("no-server")}
	if err := e.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func workerAction(name string) cli.ActionFunc {
	return func(c *cli.Context) error {
		logrus.WithField("cmd", name).Info("Starting worker CMD")

		e := &executor.Executor{Workers: []string{name}, Once: c.Bool("once")}
		if err := e.Start(); err != nil {
			logrus.WithError(err).WithField("cmd", name).Error("Starting cmd")
			return err
		}
		return nil
	}
}

func serverAction(_ *cli.Context) error {
	logrus.Info("Starting server CMD")

	e := &executor.Executor{Workers: []string{}, Serve: true}
	return e.Start()
}

func intentSubmitAction(c *cli.Context) error {
	price, err := decimal.NewFromString(c.String("price"))
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	qty := decimal.Zero
	if q := c.String("quantity"); q != "" {
		if qty, err = decimal.NewFromString(q); err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := executor.Build()
	if err != nil {
		return err
	}
	intent, err := app.Manager.Submit(ctx, intents.Request{
		Symbol:    strings.ToUpper(c.String("symbol")),
		Side:      strings.ToUpper(c.String("side")),
		OrderType: strings.ToUpper(c.String("type")),
		Price:     price,
		Quantity:  qty,
		Source:    model.IntentSourceManual,
		Reference: c.String("ref"),
	})
	if intent != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(intent)
	}
	return err
}

func candlesAction(_ *cli.Context) error {
	logrus.Info("Starting candles CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	cfg := candles.GetConfig()
	b := &candles.Backfill{
		Log:    logrus.WithField("cmd", "candles"),
		Store:  repository.NewCandleRepository(),
		Source: marketdata.NewBinanceSource(cfg.Timeframe),
		Config: cfg,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := b.Start(ctx); err != nil {
		logrus.WithError(err).Error("Candle backfill failed")
		return err
	}
	return nil
}
