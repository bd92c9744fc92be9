// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_gateway"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Call metrics
	CallsTotal    prometheus.Counter
	CallsActive   prometheus.Gauge
	CallsSuccess  prometheus.Counter
	CallsFailed   prometheus.Counter
	CallsRejected *prometheus.CounterVec
	CallDuration  prometheus.Histogram

	// Turn metrics
	TurnsCompleted prometheus.Counter
	TurnsFallback  prometheus.Counter
	TurnLatency    prometheus.Histogram
	StageLatency   *prometheus.HistogramVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Audio metrics
	AudioBytesReceived prometheus.Counter
	AudioFramesIn      prometheus.Counter
	AudioFramesOut     prometheus.Counter

	// Event publish metrics
	EventPublishTotal   *prometheus.CounterVec
	EventPublishErrors  *prometheus.CounterVec
	EventPublishLatency *prometheus.HistogramVec

	// Collaborator metrics
	CollaboratorErrors *prometheus.CounterVec

	// Reservation metrics
	ReservationsCreated prometheus.Counter
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Call metrics
		CallsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of media streams started",
		}),
		CallsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of currently active calls",
		}),
		CallsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_success_total",
			Help:      "Total number of calls completed cleanly",
		}),
		CallsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_failed_total",
			Help:      "Total number of calls ended by an error",
		}),
		CallsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_rejected_total",
			Help:      "Total number of calls rejected before streaming",
		}, []string{"reason"}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of calls in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Turn metrics
		TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_completed_total",
			Help:      "Total number of utterance/reply turns completed",
		}),
		TurnsFallback: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_fallback_total",
			Help:      "Total number of turns answered with the fallback line",
		}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Time from final transcript to first audio frame out",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Per-stage processing latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"stage"}),

		// Transcript metrics
		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),

		// Audio metrics
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from the telephony stream",
		}),
		AudioFramesIn: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_in_total",
			Help:      "Total inbound media frames",
		}),
		AudioFramesOut: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_out_total",
			Help:      "Total outbound media frames",
		}),

		// Event publish metrics
		EventPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Total number of lifecycle events published",
		}, []string{"topic"}),
		EventPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Total number of event publish errors",
		}, []string{"topic"}),
		EventPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Collaborator metrics
		CollaboratorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "Total number of collaborator call failures",
		}, []string{"collaborator", "kind"}),

		// Reservation metrics
		ReservationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_created_total",
			Help:      "Total number of reservations created",
		}),
	}
}

// RecordCallStart records a new call starting.
func (m *Metrics) RecordCallStart() {
	m.CallsTotal.Inc()
	m.CallsActive.Inc()
}

// RecordCallEnd records a call ending.
func (m *Metrics) RecordCallEnd(success bool, durationSeconds float64) {
	m.CallsActive.Dec()
	m.CallDuration.Observe(durationSeconds)
	if success {
		m.CallsSuccess.Inc()
	} else {
		m.CallsFailed.Inc()
	}
}

// RecordCallRejected records a call turned away before streaming.
func (m *Metrics) RecordCallRejected(reason string) {
	m.CallsRejected.WithLabelValues(reason).Inc()
}

// RecordTurn records one completed turn.
func (m *Metrics) RecordTurn(fallback bool, latencySeconds float64) {
	m.TurnsCompleted.Inc()
	m.TurnLatency.Observe(latencySeconds)
	if fallback {
		m.TurnsFallback.Inc()
	}
}

// RecordStage records one pipeline stage's latency.
func (m *Metrics) RecordStage(stage string, latencySeconds float64) {
	m.StageLatency.WithLabelValues(stage).Observe(latencySeconds)
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordAudioIn records an inbound media frame.
func (m *Metrics) RecordAudioIn(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesIn.Inc()
}

// RecordAudioOut records an outbound media frame.
func (m *Metrics) RecordAudioOut() {
	m.AudioFramesOut.Inc()
}

// RecordEventPublish records an event publish attempt.
func (m *Metrics) RecordEventPublish(topic string, err error, latencySeconds float64) {
	m.EventPublishTotal.WithLabelValues(topic).Inc()
	m.EventPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.EventPublishErrors.WithLabelValues(topic).Inc()
	}
}

// RecordCollaboratorError records a failed collaborator call.
func (m *Metrics) RecordCollaboratorError(collaborator, kind string) {
	m.CollaboratorErrors.WithLabelValues(collaborator, kind).Inc()
}

// RecordReservationCreated records a booking.
func (m *Metrics) RecordReservationCreated() {
	m.ReservationsCreated.Inc()
}
