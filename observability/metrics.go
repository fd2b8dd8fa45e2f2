package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recording metrics
	activeRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recordnote_active_recordings",
		Help: "Number of recordings currently capturing audio",
	})

	recordingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordnote_recordings_total",
		Help: "Total number of recordings started",
	})

	recordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recordnote_recording_duration_seconds",
		Help:    "Captured audio length per recording in seconds",
		Buckets: []float64{5, 30, 60, 300, 600, 1800, 3600, 7200},
	})

	captureInterruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordnote_capture_interruptions_total",
		Help: "Recordings ended early by an input device error",
	})

	// Transcription metrics
	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordnote_transcription_requests_total",
		Help: "Total number of transcription requests",
	}, []string{"engine", "status"})

	transcriptionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recordnote_transcription_latency_seconds",
		Help:    "Transcription latency in seconds, model load included",
		Buckets: []float64{1, 5, 15, 30, 60, 180, 600, 1800},
	}, []string{"engine"})

	modelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordnote_model_loads_total",
		Help: "Total number of speech model loads",
	}, []string{"engine", "model_size", "status"})

	// Pipeline metrics
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordnote_pipeline_runs_total",
		Help: "Completed pipeline runs by outcome",
	}, []string{"outcome"})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recordnote_pipeline_duration_seconds",
		Help:    "Time from end of recording to finished document",
		Buckets: []float64{1, 5, 15, 30, 60, 180, 600, 1800},
	})

	documentsExported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordnote_documents_exported_total",
		Help: "Minutes documents written to disk",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordnote_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordModelLoad records the outcome of a speech model load.
func RecordModelLoad(engine, size string, success bool) {
	modelLoads.WithLabelValues(engine, size, status(success)).Inc()
}

// RecordTranscription records a finished transcription request.
func RecordTranscription(engine string, latency time.Duration, success bool) {
	transcriptionLatency.WithLabelValues(engine).Observe(latency.Seconds())
	transcriptionRequests.WithLabelValues(engine, status(success)).Inc()
}

// RecordExport records a written minutes document.
func RecordExport() {
	documentsExported.Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// SessionMetrics tracks metrics for one recording session run.
type SessionMetrics struct {
	sessionID     string
	recordStart   time.Time
	pipelineStart time.Time
	mu            sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{sessionID: sessionID}
}

// RecordRecordingStart records the start of audio capture
func (m *SessionMetrics) RecordRecordingStart() {
	m.mu.Lock()
	m.recordStart = time.Now()
	m.mu.Unlock()

	activeRecordings.Inc()
	recordingsTotal.Inc()
}

// RecordRecordingEnd records the end of audio capture with the captured length.
func (m *SessionMetrics) RecordRecordingEnd(capturedSeconds float64, interrupted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recordStart.IsZero() {
		return
	}
	m.recordStart = time.Time{}

	activeRecordings.Dec()
	recordingDuration.Observe(capturedSeconds)
	if interrupted {
		captureInterruptions.Inc()
	}
}

// RecordPipelineStart records the hand-off from capture to transcription.
func (m *SessionMetrics) RecordPipelineStart() {
	m.mu.Lock()
	m.pipelineStart = time.Now()
	m.mu.Unlock()
}

// RecordPipelineEnd records the pipeline outcome: "completed" or "failed".
func (m *SessionMetrics) RecordPipelineEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pipelineStart.IsZero() {
		pipelineDuration.Observe(time.Since(m.pipelineStart).Seconds())
		m.pipelineStart = time.Time{}
	}
	pipelineRuns.WithLabelValues(outcome).Inc()
}
