// Package metrics exposes Prometheus collectors for the trading engine.
// The API server serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_orders_submitted_total",
			Help: "Total number of orders submitted (by broker).",
		},
		[]string{"broker"},
	)

	OrdersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_orders_filled_total",
			Help: "Total number of orders fully filled (by broker).",
		},
		[]string{"broker"},
	)

	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_orders_rejected_total",
			Help: "Total number of orders rejected (by broker).",
		},
		[]string{"broker"},
	)

	RiskViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_risk_violations_total",
			Help: "Total number of pre-trade risk violations (by rule).",
		},
		[]string{"rule"},
	)

	RoutingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_routing_decisions_total",
			Help: "Total number of routing decisions (by asset class and broker).",
		},
		[]string{"class", "broker"},
	)

	ExecutorRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeflow_executor_retries_total",
			Help: "Total number of order submission retries.",
		},
	)

	SignalsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_signals_executed_total",
			Help: "Total number of signals executed (by outcome).",
		},
		[]string{"outcome"},
	)

	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_signals_emitted_total",
			Help: "Total number of signals emitted by sources (by source).",
		},
		[]string{"source"},
	)

	BacktestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_backtests_total",
			Help: "Total number of backtest runs (by final status).",
		},
		[]string{"status"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeflow_positions_open",
			Help: "Current number of open positions.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeflow_equity",
			Help: "Current portfolio equity (paper or live).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted,
		OrdersFilled,
		OrdersRejected,
		RiskViolations,
		RoutingDecisions,
		ExecutorRetries,
		SignalsExecuted,
		SignalsEmitted,
		BacktestRuns,
		PositionsOpen,
		EquityGauge,
	)
}
