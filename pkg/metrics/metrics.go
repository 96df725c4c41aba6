// Package metrics exposes exchange counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hyperswap"

type Metrics struct {
	OrdersPlaced   *prometheus.CounterVec
	OrdersMatched  prometheus.Counter
	OrdersCanceled *prometheus.CounterVec
	Txs            *prometheus.CounterVec
	BookDepth      *prometheus.GaugeVec
	BlockHeight    prometheus.Gauge
	BlockTxs       prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers the exchange collectors on reg. A nil reg gets a fresh registry, which
// keeps tests from colliding on the global one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders accepted onto the book.",
		}, []string{"side"}),
		OrdersMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_matched_total",
			Help:      "Fills settled between a buy and a sell.",
		}),
		OrdersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_canceled_total",
			Help:      "Orders withdrawn by their owner.",
		}, []string{"side"}),
		Txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs_total",
			Help:      "Transactions applied, by type and outcome.",
		}, []string{"type", "status"}),
		BookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_depth",
			Help:      "Resting orders per side.",
		}, []string{"side"}),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Height of the last committed block.",
		}),
		BlockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_txs",
			Help:      "Transactions per committed block.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.OrdersPlaced,
		m.OrdersMatched,
		m.OrdersCanceled,
		m.Txs,
		m.BookDepth,
		m.BlockHeight,
		m.BlockTxs,
	)
	return m
}

func (m *Metrics) ObserveEvent(kind, side string) {
	switch kind {
	case "order_placed":
		m.OrdersPlaced.WithLabelValues(side).Inc()
	case "order_matched":
		m.OrdersMatched.Inc()
	case "order_canceled":
		m.OrdersCanceled.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) ObserveTx(txType, status string) {
	m.Txs.WithLabelValues(txType, status).Inc()
}

func (m *Metrics) ObserveBlock(height int64, txs, buys, sells int) {
	m.BlockHeight.Set(float64(height))
	m.BlockTxs.Observe(float64(txs))
	m.BookDepth.WithLabelValues("buy").Set(float64(buys))
	m.BookDepth.WithLabelValues("sell").Set(float64(sells))
}

// Handler serves the registry this Metrics was registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
