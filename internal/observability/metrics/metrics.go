// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livetalk"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	StartupLatency  prometheus.Histogram

	// Audio metrics
	FramesSent         prometheus.Counter
	AudioBytesSent     prometheus.Counter
	FragmentsScheduled prometheus.Counter
	FragmentsDropped   *prometheus.CounterVec
	PlaybackLive       prometheus.Gauge

	// Transcript metrics
	TranscriptDeltas *prometheus.CounterVec
	TurnsCommitted   prometheus.Counter

	// Protocol metrics
	ProtocolViolations prometheus.Counter

	// Publish metrics
	PublishTotal   *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
	PublishDropped prometheus.Counter
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of live sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions currently open",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of live sessions torn down",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of live sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		StartupLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_startup_seconds",
			Help:      "Time from start request to capture running",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total microphone frames sent to the remote session",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total encoded microphone bytes sent",
		}),
		FragmentsScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_scheduled_total",
			Help:      "Total inbound audio fragments scheduled for playback",
		}),
		FragmentsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_dropped_total",
			Help:      "Total inbound audio fragments dropped",
		}, []string{"reason"}),
		PlaybackLive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_live_handles",
			Help:      "Number of scheduled playback buffers not yet finished",
		}),

		TranscriptDeltas: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_deltas_total",
			Help:      "Total transcript fragments received",
		}, []string{"side"}),
		TurnsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_committed_total",
			Help:      "Total conversational turns committed to history",
		}),

		ProtocolViolations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Total unexpected inbound messages ignored",
		}),

		PublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Total transcript publish attempts",
		}, []string{"sink", "event_type"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total transcript publish errors",
		}, []string{"sink", "event_type"}),
		PublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Transcript publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"sink"}),
		PublishDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_dropped_total",
			Help:      "Transcript updates dropped because the publish queue was full",
		}),
	}
}

// RecordSessionStart records a new session being requested.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionReady records how long startup took.
func (m *Metrics) RecordSessionReady(latencySeconds float64) {
	m.StartupLatency.Observe(latencySeconds)
}

// RecordSessionEnd records a session teardown.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFrameSent records one outbound microphone frame.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSent.Inc()
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordFragmentScheduled records a fragment accepted by the scheduler.
func (m *Metrics) RecordFragmentScheduled(live int) {
	m.FragmentsScheduled.Inc()
	m.PlaybackLive.Set(float64(live))
}

// RecordFragmentDropped records a fragment that was not played.
func (m *Metrics) RecordFragmentDropped(reason string) {
	m.FragmentsDropped.WithLabelValues(reason).Inc()
}

// RecordPlaybackLive records the current size of the live handle set.
func (m *Metrics) RecordPlaybackLive(live int) {
	m.PlaybackLive.Set(float64(live))
}

// RecordTranscriptDelta records a transcript fragment for a side.
func (m *Metrics) RecordTranscriptDelta(side string) {
	m.TranscriptDeltas.WithLabelValues(side).Inc()
}

// RecordTurnCommitted records a committed turn.
func (m *Metrics) RecordTurnCommitted() {
	m.TurnsCommitted.Inc()
}

// RecordProtocolViolation records an ignored inbound message.
func (m *Metrics) RecordProtocolViolation() {
	m.ProtocolViolations.Inc()
}

// RecordPublish records a transcript publish attempt.
func (m *Metrics) RecordPublish(sink, eventType string, err error, latencySeconds float64) {
	m.PublishTotal.WithLabelValues(sink, eventType).Inc()
	m.PublishLatency.WithLabelValues(sink).Observe(latencySeconds)
	if err != nil {
		m.PublishErrors.WithLabelValues(sink, eventType).Inc()
	}
}

// RecordPublishDropped records an update discarded by a full queue.
func (m *Metrics) RecordPublishDropped() {
	m.PublishDropped.Inc()
}
