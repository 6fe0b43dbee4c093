// Package metrics holds the Prometheus collectors exported on
// /api/metrics. Every process owns one Metrics and registers it on its own
// registry, so tests can build as many as they like.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. The Observe and Set methods are no-ops on
// a nil *Metrics.
type Metrics struct {
	registry       *prometheus.Registry
	txTotal        *prometheus.CounterVec
	headBlock      prometheus.Gauge
	logsTotal      prometheus.Counter
	indexedTotal   *prometheus.CounterVec
	indexerCursor  prometheus.Gauge
	indexerLag     prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	notifyFailures prometheus.Counter
}

// New builds and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		txTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_transactions_total",
			Help: "Transactions submitted, by operation and outcome.",
		}, []string{"op", "outcome"}),
		headBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bazaar_head_block",
			Help: "Number of the latest committed block.",
		}),
		logsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bazaar_logs_total",
			Help: "Event log entries committed.",
		}),
		indexedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_indexer_events_total",
			Help: "Events projected by the indexer, by event name.",
		}, []string{"event"}),
		indexerCursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bazaar_indexer_cursor",
			Help: "Last log sequence number the indexer committed.",
		}),
		indexerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bazaar_indexer_lag",
			Help: "Committed log entries the indexer has not projected yet.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_http_requests_total",
			Help: "API requests, by method and status code.",
		}, []string{"method", "code"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bazaar_notify_failures_total",
			Help: "Notifications that could not be delivered.",
		}),
	}
	m.registry.MustRegister(
		m.txTotal, m.headBlock, m.logsTotal, m.indexedTotal,
		m.indexerCursor, m.indexerLag, m.httpRequests, m.notifyFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTx counts one submitted transaction. outcome is "ok" or the error
// kind.
func (m *Metrics) ObserveTx(op, outcome string) {
	if m == nil {
		return
	}
	m.txTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveBlock records a committed block and the logs it emitted.
func (m *Metrics) ObserveBlock(number uint64, logs int) {
	if m == nil {
		return
	}
	m.headBlock.Set(float64(number))
	m.logsTotal.Add(float64(logs))
}

// ObserveIndexed counts one projected event.
func (m *Metrics) ObserveIndexed(event string) {
	if m == nil {
		return
	}
	m.indexedTotal.WithLabelValues(event).Inc()
}

// SetIndexerPosition records the indexer cursor and how far it trails head.
func (m *Metrics) SetIndexerPosition(cursor, head uint64) {
	if m == nil {
		return
	}
	m.indexerCursor.Set(float64(cursor))
	if head > cursor {
		m.indexerLag.Set(float64(head - cursor))
	} else {
		m.indexerLag.Set(0)
	}
}

// ObserveHTTP counts one API response.
func (m *Metrics) ObserveHTTP(method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// ObserveNotifyFailure counts one undelivered notification.
func (m *Metrics) ObserveNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}
