// Package metrics exposes the bot's Prometheus collectors. They are
// registered in init() and served by the control server at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TicksTotal counts processed price ticks per symbol.
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_ticks_total",
			Help: "Price ticks processed",
		},
		[]string{"symbol"},
	)

	// OrdersTotal counts orders placed, split by kind (base, insurance,
	// take_profit).
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_orders_total",
			Help: "Orders placed",
		},
		[]string{"symbol", "kind"},
	)

	// OrderFailuresTotal counts failed order placements by kind.
	OrderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_order_failures_total",
			Help: "Order placements that failed",
		},
		[]string{"symbol", "kind"},
	)

	// TradeCyclesTotal counts finished trade cycles by result
	// (take_profit, manual).
	TradeCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_trade_cycles_total",
			Help: "Completed trade cycles by result",
		},
		[]string{"symbol", "result"},
	)

	// LastPrice is the most recently observed price per symbol.
	LastPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dca_last_price",
			Help: "Last observed price",
		},
		[]string{"symbol"},
	)

	// LadderDepth is the number of untriggered rungs left in the ladder.
	LadderDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dca_ladder_depth",
			Help: "Untriggered insurance rungs remaining",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		OrdersTotal,
		OrderFailuresTotal,
		TradeCyclesTotal,
		LastPrice,
		LadderDepth,
	)
}
