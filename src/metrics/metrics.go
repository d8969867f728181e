// Package metrics holds the Prometheus series the workers update.
//
//   - executor_signals_total{symbol,side}        signal evaluations
//   - executor_intents_total{status}             intent outcomes after Submit
//   - executor_exchange_errors_total{class}      classified exchange failures
//   - executor_oco_legs_total{role,result}       protective leg placements
//   - executor_portfolio_drift_ratio             latest drift
//   - executor_audit_failures_total              audits that returned FAIL
//   - executor_open_orders{symbol}               open order count seen by the tracker
//   - executor_cycle_seconds{worker}             worker cycle duration
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_signals_total",
			Help: "Signal evaluations by resulting side",
		},
		[]string{"symbol", "side"},
	)

	intents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_intents_total",
			Help: "Order intents by status after submission",
		},
		[]string{"status"},
	)

	exchangeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_exchange_errors_total",
			Help: "Exchange failures by class",
		},
		[]string{"class"},
	)

	ocoLegs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_oco_legs_total",
			Help: "Protective leg placements by role and result",
		},
		[]string{"role", "result"}, // result: created|failed
	)

	drift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_portfolio_drift_ratio",
			Help: "Latest relative difference between local and exchange portfolio value",
		},
	)

	auditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "executor_audit_failures_total",
			Help: "Audits that returned FAIL",
		},
	)

	openOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "executor_open_orders",
			Help: "Open order count per symbol as seen by the signal tracker",
		},
		[]string{"symbol"},
	)

	cycleSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "executor_cycle_seconds",
			Help:    "Worker cycle duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker"},
	)
)

func init() {
	prometheus.MustRegister(signals, intents, exchangeErrors)
	prometheus.MustRegister(ocoLegs, drift, auditFailures)
	prometheus.MustRegister(openOrders, cycleSeconds)
}

func IncSignal(symbol, side string)      { signals.WithLabelValues(symbol, side).Inc() }
func IncIntent(status string)            { intents.WithLabelValues(status).Inc() }
func IncExchangeError(class string)      { exchangeErrors.WithLabelValues(class).Inc() }
func IncOcoLeg(role, result string)      { ocoLegs.WithLabelValues(role, result).Inc() }
func SetDrift(v float64)                 { drift.Set(v) }
func IncAuditFailure()                   { auditFailures.Inc() }
func SetOpenOrders(symbol string, n int) { openOrders.WithLabelValues(symbol).Set(float64(n)) }

// ObserveCycle records how long a worker cycle took since start.
func ObserveCycle(worker string, start time.Time) {
	cycleSeconds.WithLabelValues(worker).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
