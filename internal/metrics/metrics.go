// Package metrics exposes the prometheus series updated by rungs and runners:
//
//   - ladder_orders_placed_total{side,role}
//   - ladder_orders_rejected_total{role}
//   - ladder_orders_cancelled_total{role}   confirmed cancels only
//   - ladder_orders_abandoned_total         force-closed without any status
//   - ladder_exits_traded_total
//   - ladder_tick_errors_total
//   - ladder_runners_active
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_orders_placed_total",
			Help: "Orders accepted by the broker",
		},
		[]string{"side", "role"},
	)

	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_orders_rejected_total",
			Help: "Orders the broker refused or failed to place",
		},
		[]string{"role"},
	)

	OrdersCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_orders_cancelled_total",
			Help: "Orders closed by a confirmed cancellation",
		},
		[]string{"role"},
	)

	OrdersAbandoned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ladder_orders_abandoned_total",
			Help: "Orders force-closed after the status grace period",
		},
	)

	ExitsTraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ladder_exits_traded_total",
			Help: "Exit orders that traded",
		},
	)

	TickErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ladder_tick_errors_total",
			Help: "Ladder ticks that reported at least one error",
		},
	)

	RunnersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ladder_runners_active",
			Help: "Runners whose loop is currently alive",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersPlaced, OrdersRejected, OrdersCancelled, OrdersAbandoned)
	prometheus.MustRegister(ExitsTraded, TickErrors, RunnersActive)
}
