package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "breakpoint"

// Rooms collects room coordinator metrics. A nil *Rooms records nothing.
type Rooms struct {
	gatherer prometheus.Gatherer

	sessions   prometheus.Gauge
	rooms      prometheus.Gauge
	messages   *prometheus.CounterVec
	errors     *prometheus.CounterVec
	promotions prometheus.Counter
	reaps      prometheus.Counter
	persist    prometheus.Histogram
}

// NewRooms registers room collectors on a fresh registry.
func NewRooms() *Rooms {
	registry := prometheus.NewRegistry()
	m := &Rooms{
		gatherer: registry,
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "sessions",
			Help:      "Live WebSocket sessions across all rooms.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "resident",
			Help:      "Room coordinators currently held in memory.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "messages_total",
			Help:      "Inbound client messages by type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "errors_total",
			Help:      "Error frames sent to clients by code.",
		}, []string{"code"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "promotions_total",
			Help:      "Options promoted by popular vote.",
		}),
		reaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "reaps_total",
			Help:      "Idle rooms whose state was wiped.",
		}),
		persist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "persist_seconds",
			Help:      "Room state write latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	registry.MustRegister(
		m.sessions,
		m.rooms,
		m.messages,
		m.errors,
		m.promotions,
		m.reaps,
		m.persist,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the collectors in Prometheus text format.
func (m *Rooms) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SessionOpened increments the live session gauge.
func (m *Rooms) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

// SessionClosed decrements the live session gauge.
func (m *Rooms) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

// RoomLoaded increments the resident room gauge.
func (m *Rooms) RoomLoaded() {
	if m != nil {
		m.rooms.Inc()
	}
}

// RoomReleased decrements the resident room gauge.
func (m *Rooms) RoomReleased() {
	if m != nil {
		m.rooms.Dec()
	}
}

// Message counts one inbound message of type t.
func (m *Rooms) Message(t string) {
	if m != nil {
		m.messages.WithLabelValues(t).Inc()
	}
}

// Error counts one error frame with code.
func (m *Rooms) Error(code string) {
	if m != nil {
		m.errors.WithLabelValues(code).Inc()
	}
}

// Promotion counts one promoted option.
func (m *Rooms) Promotion() {
	if m != nil {
		m.promotions.Inc()
	}
}

// Reap counts one idle room wipe.
func (m *Rooms) Reap() {
	if m != nil {
		m.reaps.Inc()
	}
}

// ObservePersist records one state write duration.
func (m *Rooms) ObservePersist(d time.Duration) {
	if m != nil {
		m.persist.Observe(d.Seconds())
	}
}
