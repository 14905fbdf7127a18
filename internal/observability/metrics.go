package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "journal_gateway_active_sessions",
		Help: "Number of live recording sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_gateway_sessions_total",
		Help: "Total number of recording sessions processed",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "journal_gateway_session_duration_seconds",
		Help:    "Duration of recording sessions in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// Upstream STT metrics
	sttReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_gateway_stt_reconnects_total",
		Help: "Total upstream recognizer reconnection attempts",
	})

	transcriptDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_gateway_transcript_deltas_total",
		Help: "Transcript deltas forwarded to clients",
	}, []string{"final"})

	// Analysis metrics
	analysisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_gateway_analysis_requests_total",
		Help: "Total end-of-session analysis requests",
	}, []string{"status"})

	analysisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "journal_gateway_analysis_latency_seconds",
		Help:    "Analysis pipeline latency in seconds",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 30.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_gateway_audio_bytes_total",
		Help: "Total audio bytes relayed upstream",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_gateway_frames_dropped_total",
		Help: "Audio frames dropped before reaching upstream",
	}, []string{"reason"})
)

// Metrics tracks metrics for a single recording session
type Metrics struct {
	sessionID         string
	startTime         time.Time
	analysisStartTime time.Time
	mu                sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for one session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTranscriptDelta records a transcript delta forwarded to the client
func (m *Metrics) RecordTranscriptDelta(isFinal bool) {
	final := "false"
	if isFinal {
		final = "true"
	}
	transcriptDeltas.WithLabelValues(final).Inc()
}

// RecordAnalysisStart records the start of end-of-session analysis
func (m *Metrics) RecordAnalysisStart() {
	m.mu.Lock()
	m.analysisStartTime = time.Now()
	m.mu.Unlock()
}

// RecordAnalysisEnd records the end of end-of-session analysis
func (m *Metrics) RecordAnalysisEnd(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.analysisStartTime.IsZero() {
		analysisLatency.Observe(time.Since(m.analysisStartTime).Seconds())
	}
	analysisRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes relayed upstream
func (m *Metrics) RecordAudioBytes(bytes int64) {
	audioBytesProcessed.Add(float64(bytes))
}

// RecordFrameDropped records an audio frame dropped before upstream
func (m *Metrics) RecordFrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordSTTReconnect records an upstream reconnection attempt
func RecordSTTReconnect() {
	sttReconnects.Inc()
}
