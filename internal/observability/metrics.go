package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_bridge_active_sessions",
		Help: "Number of open transcription sessions",
	})

	sessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_sessions_opened_total",
		Help: "Total number of session open attempts",
	}, []string{"status"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_bridge_session_duration_seconds",
		Help:    "Duration of transcription sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	blocksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_bridge_audio_blocks_sent_total",
		Help: "Total audio blocks sent to the transcription backend",
	})

	// Result metrics
	resultsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_results_total",
		Help: "Total results delivered to callers",
	}, []string{"kind"})

	timeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_timeouts_total",
		Help: "Total timeouts detected",
	}, []string{"kind"}) // kind: "no_input" or "speech"

	finalizeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_bridge_finalize_latency_seconds",
		Help:    "Time from end-of-stream to final transcript",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	pingsAnswered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_bridge_pings_answered_total",
		Help: "Total backend pings answered with a pong",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_bridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single transcription session
type SessionMetrics struct {
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{startTime: time.Now()}
}

// RecordOpen records the outcome of a session open attempt
func RecordOpen(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	sessionsOpened.WithLabelValues(status).Inc()
}

// RecordSessionStart records a session becoming active
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordBlockSent records one audio block written to the backend
func (m *SessionMetrics) RecordBlockSent(bytes int) {
	blocksSent.Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordResult records a delivered result by kind
func (m *SessionMetrics) RecordResult(kind string) {
	resultsDelivered.WithLabelValues(kind).Inc()
}

// RecordTimeout records a detected timeout by kind
func (m *SessionMetrics) RecordTimeout(kind string) {
	timeoutsTotal.WithLabelValues(kind).Inc()
}

// RecordFinalize records the latency of an end-of-stream handshake
func (m *SessionMetrics) RecordFinalize(latency time.Duration) {
	finalizeLatency.Observe(latency.Seconds())
}

// RecordPing records a backend ping answered with a pong
func (m *SessionMetrics) RecordPing() {
	pingsAnswered.Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
