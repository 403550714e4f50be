package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "capbot_cycles_total",
			Help: "Total number of completed trading cycles.",
		},
	)

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capbot_signals_total",
			Help: "Signals produced per cycle, by outcome (executed, rejected, hold).",
		},
		[]string{"outcome"},
	)

	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capbot_trades_total",
			Help: "Closed trades, by result (win, loss).",
		},
		[]string{"result"},
	)

	SessionRenewals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "capbot_session_renewals_total",
			Help: "Broker session renewals performed.",
		},
	)

	BrokerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capbot_broker_errors_total",
			Help: "Broker API errors, by kind (network, rate_limit, rejection, session).",
		},
		[]string{"kind"},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capbot_positions_open",
			Help: "Current number of open positions in the ledger.",
		},
	)

	DailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capbot_daily_pnl",
			Help: "Realized profit and loss for the current trading day.",
		},
	)

	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capbot_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		SignalsTotal,
		TradesTotal,
		SessionRenewals,
		BrokerErrors,
		OpenPositions,
		DailyPnL,
		BreakerState,
	)
}
