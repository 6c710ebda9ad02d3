package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics register on the default registry; the HTTP server exposes
// them on /metrics.
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ladder",
		Name:      "active_sessions",
		Help:      "Number of trades currently under live monitoring.",
	})

	MonitorTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ladder",
		Name:      "monitor_ticks_total",
		Help:      "Completed monitor poll passes across all trades.",
	})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ladder",
		Name:      "orders_placed_total",
		Help:      "Orders placed on the exchange by kind.",
	}, []string{"kind"}) // entry | take_profit | stop

	OrderFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ladder",
		Name:      "order_fills_total",
		Help:      "Fills observed by the monitor by kind.",
	}, []string{"kind"}) // entry | take_profit

	StopMoves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ladder",
		Name:      "stop_moves_total",
		Help:      "Stop-loss replacements, initial placement included.",
	})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ladder",
		Name:      "trades_closed_total",
		Help:      "Trades marked CLOSED by reason.",
	}, []string{"reason"}) // manual | sync_no_position

	ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ladder",
		Name:      "reconcile_runs_total",
		Help:      "Completed reconciliation sweeps.",
	})

	ReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ladder",
		Name:      "reconcile_errors_total",
		Help:      "Per-trade errors hit during reconciliation sweeps.",
	})
)
