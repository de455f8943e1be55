package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prep"

// Metrics holds every collector registered by the service.
type Metrics struct {
	registry *prometheus.Registry

	tradesReceived  *prometheus.CounterVec
	tradesPersisted *prometheus.CounterVec
	dataErrors      *prometheus.CounterVec
	restRequests    *prometheus.CounterVec

	consumers      prometheus.Gauge
	disconnects    *prometheus.CounterVec
	broadcasts     prometheus.Counter
	broadcastBytes prometheus.Counter

	phase      prometheus.Gauge
	mirrorRows *prometheus.CounterVec
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		tradesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_received_total",
			Help:      "Trades received from the exchange, by source.",
		}, []string{"source", "symbol"}),
		tradesPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_persisted_total",
			Help:      "Trades appended to the trade log.",
		}, []string{"symbol"}),
		dataErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_errors_total",
			Help:      "Records discarded for violating trade invariants.",
		}, []string{"source"}),
		restRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rest_requests_total",
			Help:      "REST requests by outcome.",
		}, []string{"outcome"}),

		consumers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_consumers",
			Help:      "Connected downstream consumers.",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_disconnects_total",
			Help:      "Consumer disconnects by reason.",
		}, []string{"reason"}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_broadcasts_total",
			Help:      "Batches broadcast to consumers.",
		}),
		broadcastBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_broadcast_bytes_total",
			Help:      "Encoded bytes broadcast, counted once per batch.",
		}),

		phase: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_phase",
			Help:      "Current orchestrator phase (0=connecting 1=subscribing 2=warming_up 3=live 4=failed 5=stopped).",
		}),
		mirrorRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_rows_total",
			Help:      "SQL mirror rows by result.",
		}, []string{"result"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TradesReceived counts trades from source ("live" or "rest").
func (m *Metrics) TradesReceived(source, symbol string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.tradesReceived.WithLabelValues(source, symbol).Add(float64(n))
}

// TradesPersisted counts trades appended to the log.
func (m *Metrics) TradesPersisted(symbol string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.tradesPersisted.WithLabelValues(symbol).Add(float64(n))
}

// DataError counts one discarded record.
func (m *Metrics) DataError(source string) {
	if m == nil {
		return
	}
	m.dataErrors.WithLabelValues(source).Inc()
}

// RESTRequest counts one REST attempt ("ok", "retry", "error").
func (m *Metrics) RESTRequest(outcome string) {
	if m == nil {
		return
	}
	m.restRequests.WithLabelValues(outcome).Inc()
}

// ConsumerConnected increments the consumer gauge.
func (m *Metrics) ConsumerConnected() {
	if m == nil {
		return
	}
	m.consumers.Inc()
}

// ConsumerDisconnected decrements the consumer gauge and counts the reason.
func (m *Metrics) ConsumerDisconnected(reason string) {
	if m == nil {
		return
	}
	m.consumers.Dec()
	m.disconnects.WithLabelValues(reason).Inc()
}

// Broadcast counts one broadcast batch of the given encoded size.
func (m *Metrics) Broadcast(size int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.broadcastBytes.Add(float64(size))
}

// SetPhase records the orchestrator phase.
func (m *Metrics) SetPhase(phase int) {
	if m == nil {
		return
	}
	m.phase.Set(float64(phase))
}

// MirrorRows counts SQL mirror rows ("inserted", "conflict", "error").
func (m *Metrics) MirrorRows(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.mirrorRows.WithLabelValues(result).Add(float64(n))
}
