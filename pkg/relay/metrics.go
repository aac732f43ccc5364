// Copyright 2024-2026 Aiku AI

package relay

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/plugin"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	PacketsTotal  *prometheus.CounterVec
	RoomEvents    *prometheus.CounterVec
	SendsTotal    *prometheus.CounterVec
	SendDuration  prometheus.Histogram
	LongNamesSeen prometheus.Counter
}

// NewMetrics creates and registers the relay collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmrelay_mesh_packets_total",
				Help: "Mesh packets offered to plugins",
			},
			[]string{"result"}, // "handled" or "declined"
		),
		RoomEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmrelay_room_messages_total",
				Help: "Matrix room messages offered to plugins",
			},
			[]string{"result"},
		),
		SendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmrelay_matrix_sends_total",
				Help: "Matrix send attempts by outcome",
			},
			[]string{"kind"},
		),
		SendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mmrelay_matrix_send_duration_seconds",
				Help:    "Matrix send latency",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		LongNamesSeen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mmrelay_long_names_saved_total",
				Help: "Node long names recorded from node info packets",
			},
		),
	}
	m.registry.MustRegister(m.PacketsTotal, m.RoomEvents, m.SendsTotal, m.SendDuration, m.LongNamesSeen)
	return m
}

// ObserveSend records one send attempt.
func (m *Metrics) ObserveSend(kind plugin.SendErrorKind, took time.Duration) {
	m.SendsTotal.WithLabelValues(string(kind)).Inc()
	m.SendDuration.Observe(took.Seconds())
}

func handledLabel(handled bool) string {
	if handled {
		return "handled"
	}
	return "declined"
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
