// Package metrics exposes engine counters through Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockmart/pkg/exchange"
)

// Collector implements exchange.Observer on a private registry, so tests can
// build several engines without duplicate-registration panics.
type Collector struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	ordersChanged   prometheus.Counter
	ordersCancelled prometheus.Counter
	trades          prometheus.Counter
	sharesTraded    prometheus.Counter
	notifications   prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockmart",
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the engine, by kind.",
		}, []string{"kind"}),
		ordersChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockmart",
			Name:      "orders_changed_total",
			Help:      "Successful order mutations.",
		}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockmart",
			Name:      "orders_cancelled_total",
			Help:      "Orders withdrawn by their owners.",
		}),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockmart",
			Name:      "trades_total",
			Help:      "Executed transactions.",
		}),
		sharesTraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockmart",
			Name:      "shares_traded_total",
			Help:      "Total shares across all executed transactions.",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockmart",
			Name:      "notifications_delivered_total",
			Help:      "Buy/sale notifications delivered to agents.",
		}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		c.ordersSubmitted, c.ordersChanged, c.ordersCancelled,
		c.trades, c.sharesTraded, c.notifications,
	)
	return c
}

func (c *Collector) OrderSubmitted(kind exchange.Kind) {
	c.ordersSubmitted.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) OrderChanged()   { c.ordersChanged.Inc() }
func (c *Collector) OrderCancelled() { c.ordersCancelled.Inc() }

func (c *Collector) TradeExecuted(shares int64) {
	c.trades.Inc()
	c.sharesTraded.Add(float64(shares))
}

func (c *Collector) NotificationDelivered() { c.notifications.Inc() }

// WatchWaiting registers a gauge sampling the number of waiting orders.
// Call at most once, after the engine is constructed.
func (c *Collector) WatchWaiting(fn func() int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "stockmart",
		Name:      "orders_waiting",
		Help:      "Orders currently eligible for matching.",
	}, func() float64 { return float64(fn()) }))
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
