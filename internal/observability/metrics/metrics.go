// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Inbound metrics
	UtterancesReceived prometheus.Counter
	AudioBytesReceived prometheus.Counter
	InboundDropped     *prometheus.CounterVec

	// Turn metrics
	TurnsTotal    *prometheus.CounterVec
	TurnsInFlight prometheus.Gauge
	StageLatency  *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec
	TokensTotal   prometheus.Counter

	// Relay metrics
	RelayEvents      *prometheus.CounterVec
	RelayWriteErrors prometheus.Counter
	AbandonedTurns   prometheus.Counter

	// Bus publish metrics
	BusPublishTotal   *prometheus.CounterVec
	BusPublishErrors  *prometheus.CounterVec
	BusPublishDropped *prometheus.CounterVec
	BusPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all metrics with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Session metrics
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of WebSocket sessions accepted",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open sessions",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		// Inbound metrics
		UtterancesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_received_total",
			Help:      "Total utterances accepted from clients",
		}),
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total decoded audio bytes received",
		}),
		InboundDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_dropped_total",
			Help:      "Total inbound messages dropped",
		}, []string{"reason"}),

		// Turn metrics
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total turns completed by outcome",
		}, []string{"outcome"}),
		TurnsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_in_flight",
			Help:      "Turns currently being processed across all sessions",
		}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Adapter call latency per pipeline stage",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Total adapter failures per pipeline stage",
		}, []string{"stage", "error_type"}),
		TokensTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total tokens reported by the conversation model",
		}),

		// Relay metrics
		RelayEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Total events written to clients by kind",
		}, []string{"kind"}),
		RelayWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_write_errors_total",
			Help:      "Total transport write failures",
		}),
		AbandonedTurns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_turns_total",
			Help:      "Turns still running when their session finished draining",
		}),

		// Bus publish metrics
		BusPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_total",
			Help:      "Total number of bus events published",
		}, []string{"topic", "backend"}),
		BusPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_errors_total",
			Help:      "Total number of bus publish errors",
		}, []string{"topic", "backend"}),
		BusPublishDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_dropped_total",
			Help:      "Total number of bus events dropped before publishing",
		}, []string{"reason"}),
		BusPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_latency_seconds",
			Help:      "Bus publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// gRPC metrics
		GRPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total gRPC calls by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new session being accepted.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordUtterance records an accepted utterance and its decoded size.
func (m *Metrics) RecordUtterance(bytes int) {
	m.UtterancesReceived.Inc()
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordInboundDropped records an inbound message that was ignored.
func (m *Metrics) RecordInboundDropped(reason string) {
	m.InboundDropped.WithLabelValues(reason).Inc()
}

// RecordTurnStart records a turn entering the pipeline.
func (m *Metrics) RecordTurnStart() {
	m.TurnsInFlight.Inc()
}

// RecordTurnEnd records a turn leaving the pipeline.
func (m *Metrics) RecordTurnEnd(outcome string) {
	m.TurnsInFlight.Dec()
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordStage records an adapter call for a pipeline stage.
func (m *Metrics) RecordStage(stage string, err error, errorType string, latencySeconds float64) {
	m.StageLatency.WithLabelValues(stage).Observe(latencySeconds)
	if err != nil {
		m.StageErrors.WithLabelValues(stage, errorType).Inc()
	}
}

// RecordTokens adds the model-reported token count.
func (m *Metrics) RecordTokens(n int) {
	if n > 0 {
		m.TokensTotal.Add(float64(n))
	}
}

// RecordRelayEvent records an event written to a client.
func (m *Metrics) RecordRelayEvent(kind string) {
	m.RelayEvents.WithLabelValues(kind).Inc()
}

// RecordRelayWriteError records a transport write failure.
func (m *Metrics) RecordRelayWriteError() {
	m.RelayWriteErrors.Inc()
}

// RecordAbandonedTurns records turns left running after a session drain timeout.
func (m *Metrics) RecordAbandonedTurns(n int) {
	m.AbandonedTurns.Add(float64(n))
}

// RecordBusPublish records a bus publish attempt.
func (m *Metrics) RecordBusPublish(topic, backend string, err error, latencySeconds float64) {
	m.BusPublishTotal.WithLabelValues(topic, backend).Inc()
	m.BusPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.BusPublishErrors.WithLabelValues(topic, backend).Inc()
	}
}

// RecordBusDropped records a bus event dropped before reaching the backend.
func (m *Metrics) RecordBusDropped(reason string) {
	m.BusPublishDropped.WithLabelValues(reason).Inc()
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
