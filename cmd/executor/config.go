package executor

import (
	"cryptoexecutor/src/alerts"
	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/executors"
	"cryptoexecutor/src/intents"
	"cryptoexecutor/src/marketdata"
	"cryptoexecutor/src/oco"
	"cryptoexecutor/src/reconcile"
	"cryptoexecutor/src/risk"
	"cryptoexecutor/src/security"
	"cryptoexecutor/src/server"
	"cryptoexecutor/src/signals"
)

// Settings gathers the env config of every package the executor wires.
type Settings struct {
	Exchange   connectors.Config
	Security   security.Config
	Alerts     alerts.Config
	Intents    intents.Config
	Signals    signals.Config
	MarketData marketdata.Config
	OCO        oco.Config
	Risk       risk.Config
	Reconcile  reconcile.Config
	Loops      executors.Config
	Server     *server.Config
}

func LoadSettings() Settings {
	return Settings{
		Exchange:   connectors.GetConfig(),
		Security:   security.GetConfig(),
		Alerts:     alerts.GetConfig(),
		Intents:    intents.GetConfig(),
		Signals:    signals.GetConfig(),
		MarketData: marketdata.GetConfig(),
		OCO:        oco.GetConfig(),
		Risk:       risk.GetConfig(),
		Reconcile:  reconcile.GetConfig(),
		Loops:      executors.GetConfig(),
		Server:     server.GetConfig(),
	}
}

// intentWindowsOverlap reports whether reconciliation would fail a pending
// intent before Submit gets the chance to expire it. Submit expires after
// INTENT_TTL; reconciliation fails after INTENT_GRACE.
func intentWindowsOverlap(s Settings) bool {
	return s.Intents.TTL > 0 && s.Reconcile.IntentGrace > 0 && s.Intents.TTL >= s.Reconcile.IntentGrace
}
