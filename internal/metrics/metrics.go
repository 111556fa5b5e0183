// Package metrics holds the Prometheus collectors of the geyser-sim service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geyser_sim"

// Channel labels.
const (
	ChannelMaster = "master"
	ChannelTenant = "tenant"
)

// Metrics is the set of collectors shared by the registry and its workers.
type Metrics struct {
	MessagesReceived *prometheus.CounterVec
	DecodeFailures   *prometheus.CounterVec
	ConnectFailures  prometheus.Counter
	ConnectLatency   prometheus.Histogram
	PublishFailures  prometheus.Counter
	SessionsActive   prometheus.Gauge
	Heartbeats       prometheus.Counter
	TelemetryWrites  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages by channel and kind.",
		}, []string{"channel", "kind"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound messages dropped because they could not be decoded.",
		}, []string{"channel"}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Tenant broker connections that failed.",
		}),
		ConnectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_seconds",
			Help:      "Time taken by successful tenant broker connects.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Outbound publishes that failed.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Tenant sessions currently in the active state.",
		}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Session liveness messages published.",
		}),
		TelemetryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_writes_total",
			Help:      "Telemetry store writes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.MessagesReceived,
		m.DecodeFailures,
		m.ConnectFailures,
		m.ConnectLatency,
		m.PublishFailures,
		m.SessionsActive,
		m.Heartbeats,
		m.TelemetryWrites,
	)

	return m
}

// Received counts one inbound message.
func (m *Metrics) Received(channel, kind string) {
	m.MessagesReceived.WithLabelValues(channel, kind).Inc()
}

// DecodeFailed counts one dropped message.
func (m *Metrics) DecodeFailed(channel string) {
	m.DecodeFailures.WithLabelValues(channel).Inc()
}

// Connected records a successful connect that took d.
func (m *Metrics) Connected(d time.Duration) {
	m.ConnectLatency.Observe(d.Seconds())
}

// TelemetryWritten counts a store write; err decides the result label.
func (m *Metrics) TelemetryWritten(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TelemetryWrites.WithLabelValues(result).Inc()
}
