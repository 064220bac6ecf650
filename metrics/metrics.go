// Package metrics exposes Prometheus counters for the relay.
//
// All methods are safe on a nil *Collector so callers can run without
// metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensorhub"

// Collector holds every metric the hub reports.
type Collector struct {
	registry *prometheus.Registry

	connections     prometheus.Gauge
	envelopes       *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	relayed         *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	sessionsMatched prometheus.Counter
	roomsCreated    prometheus.Counter
	swept           *prometheus.CounterVec
}

// New creates a collector on its own registry, including Go runtime and
// process collectors.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open WebSocket connections",
		}),

		envelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Inbound envelopes by type",
		}, []string{"type"}),

		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Requests rejected with a failure reply, by envelope type and reason code",
		}, []string{"type", "code"}),

		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_total",
			Help:      "Relayed payloads delivered to a send queue, by kind",
		}, []string{"kind"}),

		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Outbound messages dropped, by reason",
		}, []string{"reason"}),

		sessionsMatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_matched_total",
			Help:      "Session codes successfully matched by a sensor",
		}),

		roomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Multiplayer rooms created",
		}),

		swept: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_swept_total",
			Help:      "Entries removed by the janitor, by kind",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ConnectionOpened() {
	if c != nil {
		c.connections.Inc()
	}
}

func (c *Collector) ConnectionClosed() {
	if c != nil {
		c.connections.Dec()
	}
}

func (c *Collector) Envelope(kind string) {
	if c != nil {
		c.envelopes.WithLabelValues(kind).Inc()
	}
}

func (c *Collector) Rejected(kind, code string) {
	if c != nil {
		c.rejections.WithLabelValues(kind, code).Inc()
	}
}

func (c *Collector) Relayed(kind string) {
	if c != nil {
		c.relayed.WithLabelValues(kind).Inc()
	}
}

func (c *Collector) Dropped(reason string) {
	if c != nil {
		c.dropped.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) SessionMatched() {
	if c != nil {
		c.sessionsMatched.Inc()
	}
}

func (c *Collector) RoomCreated() {
	if c != nil {
		c.roomsCreated.Inc()
	}
}

func (c *Collector) Swept(kind string, n int) {
	if c != nil && n > 0 {
		c.swept.WithLabelValues(kind).Add(float64(n))
	}
}
