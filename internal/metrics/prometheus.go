package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Audio processing metrics
	ConversionDuration *prometheus.HistogramVec
	SplitsTotal        prometheus.Counter
	SegmentsPerSplit   prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests     prometheus.Counter
	TranscriptionSuccesses    prometheus.Counter
	TranscriptionFailures     prometheus.Counter
	TranscriptionUnrecognized prometheus.Counter
	TranscriptionDuration     prometheus.Histogram
	TranscriptionRetries      prometheus.Counter

	// Workflow metrics
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsFailed    *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
	StepDuration  *prometheus.HistogramVec
	StepRetries   *prometheus.CounterVec

	// Object storage metrics
	StorageOperations *prometheus.CounterVec

	// Delivery metrics
	MessagesSent     prometheus.Counter
	MessagesEdited   prometheus.Counter
	DeliveryRetries  prometheus.Counter
	DeliveryFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on promhttp.Handler().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Audio processing metrics
		ConversionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_conversion_duration_seconds",
			Help:    "Time spent converting audio between formats",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"from", "to"}),
		SplitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_splits_total",
			Help: "Total number of audio clips split on silence",
		}),
		SegmentsPerSplit: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_segments_per_split",
			Help:    "Number of speech segments produced per split",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionUnrecognized: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_unrecognized_total",
			Help: "Total number of segments with no recognizable speech",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Workflow metrics
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_runs_started_total",
			Help: "Total number of recognition runs started",
		}),
		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_runs_completed_total",
			Help: "Total number of recognition runs that reached done",
		}),
		RunsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_runs_failed_total",
			Help: "Total number of recognition runs that failed",
		}, []string{"step"}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_active_runs",
			Help: "Current number of runs being executed by this process",
		}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_step_duration_seconds",
			Help:    "Duration of workflow units of work including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5 minutes
		}, []string{"step", "result"}),
		StepRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_step_retries_total",
			Help: "Total number of workflow unit retries",
		}, []string{"step"}),

		// Object storage metrics
		StorageOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_storage_operations_total",
			Help: "Total number of transient object store operations",
		}, []string{"operation", "result"}),

		// Delivery metrics
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_messages_sent_total",
			Help: "Total number of new transcript messages sent",
		}),
		MessagesEdited: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_messages_edited_total",
			Help: "Total number of transcript messages extended in place",
		}),
		DeliveryRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_delivery_retries_total",
			Help: "Total number of Bot API calls repeated after a transient failure",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_delivery_failures_total",
			Help: "Total number of durable run transcripts that could not be delivered",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordConversion records one format conversion
func (m *Metrics) RecordConversion(from, to string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ConversionDuration.WithLabelValues(from, to).Observe(durationSeconds)
}

// RecordSplit records a split and the number of segments it produced
func (m *Metrics) RecordSplit(segments int) {
	if m == nil {
		return
	}
	m.SplitsTotal.Inc()
	m.SegmentsPerSplit.Observe(float64(segments))
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64, unrecognized bool) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	if unrecognized {
		m.TranscriptionUnrecognized.Inc()
	}
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordRunStarted records a run entering execution in this process
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

// RecordRunFinished records a run leaving execution; failedStep is empty on success
func (m *Metrics) RecordRunFinished(failedStep string) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	if failedStep == "" {
		m.RunsCompleted.Inc()
		return
	}
	m.RunsFailed.WithLabelValues(failedStep).Inc()
}

// RecordRunSuspended records a run that stopped executing without finishing
func (m *Metrics) RecordRunSuspended() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}

// RecordStep records one unit of work
func (m *Metrics) RecordStep(step string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.StepDuration.WithLabelValues(step, result).Observe(durationSeconds)
}

// RecordStepRetry increments the retry counter of a step
func (m *Metrics) RecordStepRetry(step string) {
	if m == nil {
		return
	}
	m.StepRetries.WithLabelValues(step).Inc()
}

// RecordStorageOperation records an object store call
func (m *Metrics) RecordStorageOperation(operation, result string) {
	if m == nil {
		return
	}
	m.StorageOperations.WithLabelValues(operation, result).Inc()
}

// RecordMessageSent increments the sent messages counter
func (m *Metrics) RecordMessageSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

// RecordMessageEdited increments the edited messages counter
func (m *Metrics) RecordMessageEdited() {
	if m == nil {
		return
	}
	m.MessagesEdited.Inc()
}

// RecordDeliveryRetry increments the repeated Bot API calls counter
func (m *Metrics) RecordDeliveryRetry() {
	if m == nil {
		return
	}
	m.DeliveryRetries.Inc()
}

// RecordDeliveryFailure increments the undelivered transcripts counter
func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
