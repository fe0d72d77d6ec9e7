// Package metrics registers the Prometheus collectors the bot updates during
// operation, served at /metrics in text exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Entries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_entries_total",
			Help: "Positions opened",
		},
		[]string{"strategy"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exits_total",
			Help: "Positions closed, split by exit reason",
		},
		[]string{"reason"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_entry_rejections_total",
			Help: "Entry signals rejected, split by rejection code",
		},
		[]string{"code"},
	)

	BreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_breaker_trips_total",
			Help: "Circuit breaker trips, split by condition",
		},
		[]string{"condition"},
	)

	PatternSuspensions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_pattern_suspensions_total",
			Help: "Failure-pattern suspensions",
		},
		[]string{"pattern"},
	)

	AbandonedPositions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_abandoned_positions_total",
			Help: "Positions abandoned after close retries were exhausted",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Currently open positions",
		},
	)

	DailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_daily_pnl_krw",
			Help: "Cumulative realized P&L for the current day in KRW",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Entries,
		Exits,
		Rejections,
		BreakerTrips,
		PatternSuspensions,
		AbandonedPositions,
		OpenPositions,
		DailyPnL,
	)
}
