package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Batch analysis metrics
	analysisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_analysis_requests_total",
		Help: "Total number of multi-pass analysis requests",
	}, []string{"status"})

	analysisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_coach_analysis_latency_seconds",
		Help:    "End-to-end multi-pass analysis latency in seconds",
		Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80},
	})

	analysisPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_analysis_passes_total",
		Help: "Individual analysis passes by outcome",
	}, []string{"status"}) // status: "ok", "remote_error", "invalid"

	comparisonRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_comparison_requests_total",
		Help: "Total number of comparison requests",
	}, []string{"status"})

	// Remote inference metrics
	inferenceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_inference_requests_total",
		Help: "Total number of remote inference calls",
	}, []string{"model", "status"})

	inferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_coach_inference_latency_seconds",
		Help:    "Remote inference latency in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40},
	}, []string{"model"})

	inferenceRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_inference_retries_total",
		Help: "Retries of transient remote inference failures",
	}, []string{"kind"})

	// Live session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_coach_live_sessions_active",
		Help: "Number of active live sessions",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_live_sessions_total",
		Help: "Live sessions by final state",
	}, []string{"outcome"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_coach_live_session_duration_seconds",
		Help:    "Duration of live sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_live_audio_bytes_total",
		Help: "Total live audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_coach_live_frames_dropped_total",
		Help: "Captured frames dropped because the outbound queue was full",
	})

	inputLevel = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_coach_live_input_level_rms",
		Help:    "RMS level of captured frames",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5},
	})

	silentFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_coach_live_silent_frames_total",
		Help: "Captured frames below the silence threshold",
	})

	interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_coach_live_interruptions_total",
		Help: "Barge-in interruptions that cancelled scheduled playback",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_coach_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordAnalysis records one completed Analyze call
func RecordAnalysis(success bool, elapsed time.Duration) {
	analysisRequests.WithLabelValues(statusLabel(success)).Inc()
	analysisLatency.Observe(elapsed.Seconds())
}

// RecordAnalysisPass records the outcome of a single pass
func RecordAnalysisPass(status string) {
	analysisPasses.WithLabelValues(status).Inc()
}

// RecordComparison records one completed Compare call
func RecordComparison(success bool) {
	comparisonRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordInference records one remote inference attempt
func RecordInference(model string, success bool, elapsed time.Duration) {
	inferenceRequests.WithLabelValues(model, statusLabel(success)).Inc()
	inferenceLatency.WithLabelValues(model).Observe(elapsed.Seconds())
}

// RecordInferenceRetry records a retry of a transient failure
func RecordInferenceRetry(kind string) {
	inferenceRetries.WithLabelValues(kind).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
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

// SilenceThreshold is the frame RMS below which capture counts as silent
const SilenceThreshold = 0.01

// SessionMetrics tracks metrics for a single live session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
	started   bool
	ended     bool
	frames    int
	silent    int
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a live session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{sessionID: sessionID}
}

// RecordSessionStart marks the session active
func (m *SessionMetrics) RecordSessionStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.startTime = time.Now()
	activeSessions.Inc()
}

// RecordSessionEnd marks the session finished with outcome "ended" or
// "error". Calls after the first are ignored.
func (m *SessionMetrics) RecordSessionEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	totalSessions.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordInputLevel records the RMS level of one captured frame
func (m *SessionMetrics) RecordInputLevel(rms float64) {
	inputLevel.Observe(rms)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
	if rms < SilenceThreshold {
		m.silent++
		silentFrames.Inc()
	}
}

// InputFrames returns the number of captured frames and how many were silent
func (m *SessionMetrics) InputFrames() (total, silent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames, m.silent
}

// RecordFrameDropped counts a captured frame dropped on overflow
func (m *SessionMetrics) RecordFrameDropped() {
	framesDropped.Inc()
}

// RecordInterruption counts a playback interruption
func (m *SessionMetrics) RecordInterruption() {
	interruptions.Inc()
}

// RecordError records an error attributed to this session's component
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
