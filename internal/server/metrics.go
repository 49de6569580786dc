package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects channel-level counters exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	Connections   prometheus.Gauge
	Turns         *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
	TurnDuration  prometheus.Histogram
	FramesDropped prometheus.Counter
}

// NewMetrics builds and registers the channel metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scout_ws_connections",
			Help: "Open WebSocket connections.",
		}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_turns_total",
			Help: "Interactive turns by terminal status.",
		}, []string{"status"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_remote_tool_calls_total",
			Help: "Remote tool call envelopes by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scout_turn_duration_seconds",
			Help:    "Wall time of one interactive turn.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scout_outbound_frames_dropped_total",
			Help: "Outbound frames dropped because a client stopped reading.",
		}),
	}
	registry.MustRegister(m.Connections, m.Turns, m.ToolCalls, m.TurnDuration, m.FramesDropped)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
