package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/config"
	"github.com/skypro1111/media-transcriber/internal/delivery"
	"github.com/skypro1111/media-transcriber/internal/metrics"
	"github.com/skypro1111/media-transcriber/internal/objectstore"
	"github.com/skypro1111/media-transcriber/internal/recognition"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// DefaultMaxUploadSize bounds the body of a recognition request
const DefaultMaxUploadSize = 100 << 20

// CallbackProcessor delivers the result of a finished run
type CallbackProcessor interface {
	ProcessCallback(ctx context.Context, runID string) error
}

// RouteRegistrar mounts additional routes, such as the run or object APIs
type RouteRegistrar interface {
	Register(r *mux.Router)
}

// StatsProvider reports object store usage
type StatsProvider interface {
	Stats(ctx context.Context) (objectstore.StoreStats, error)
}

// TranscriptionStatsProvider reports transcription client statistics
type TranscriptionStatsProvider interface {
	GetStats() transcription.ClientStats
}

// ActiveRunsProvider reports the number of runs executing in this process
type ActiveRunsProvider interface {
	ActiveRuns() int
}

// Options wires optional components into the server. Routes whose component
// is nil are not mounted.
type Options struct {
	Recognizer         recognition.Service
	Callbacks          CallbackProcessor
	Routes             []RouteRegistrar
	Storage            StatsProvider
	TranscriptionStats TranscriptionStatsProvider
	Runs               ActiveRunsProvider
	Gatherer           prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	MaxUploadSize      int64
}

// HTTPServer provides the HTTP API endpoints
type HTTPServer struct {
	server  *http.Server
	router  *mux.Router
	logger  *slog.Logger
	config  *config.Config
	options Options
	metrics *metrics.Metrics

	// Callbacks outlive their request; they are cancelled and awaited on Stop
	ctx       context.Context
	cancel    context.CancelFunc
	callbacks sync.WaitGroup

	// Server state
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, appConfig *config.Config, options Options,
	logger *slog.Logger, m *metrics.Metrics) *HTTPServer {

	if options.Gatherer == nil {
		options.Gatherer = prometheus.DefaultGatherer
	}

	if options.MaxUploadSize <= 0 {
		options.MaxUploadSize = DefaultMaxUploadSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &HTTPServer{
		router:    mux.NewRouter(),
		logger:    logger,
		config:    appConfig,
		options:   options,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	h.setupRoutes()

	// No write timeout: synchronous recognition of a long clip may take minutes
	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() {
	h.router.Use(h.withMetrics)

	h.router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	h.router.HandleFunc("/config", h.handleConfig).Methods(http.MethodGet)
	h.router.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)

	if h.options.Callbacks != nil {
		h.router.HandleFunc("/callback", h.handleCallback).Methods(http.MethodPost)
	}

	if h.options.Recognizer != nil {
		h.router.HandleFunc("/api/v1/recognize", h.handleRecognize).Methods(http.MethodPost)
	}

	for _, routes := range h.options.Routes {
		routes.Register(h.router)
	}

	h.router.Handle("/metrics", promhttp.HandlerFor(h.options.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	h.router.HandleFunc("/", h.handleRoot).Methods(http.MethodGet)
}

// Handler returns the router, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics records every routed request under its path template
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		// The metrics endpoint is not measured
		if endpoint == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and waits for pending callbacks
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	err := h.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		h.callbacks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.cancel()
		<-done
	}
	h.cancel()

	return err
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{}

	if h.options.Runs != nil {
		components["workflow"] = map[string]interface{}{
			"status":      "running",
			"active_runs": h.options.Runs.ActiveRuns(),
		}
	}

	if h.options.TranscriptionStats != nil {
		stats := h.options.TranscriptionStats.GetStats()
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	status := "healthy"
	if h.options.Storage != nil {
		if _, err := h.options.Storage.Stats(r.Context()); err != nil {
			status = "degraded"
			components["storage"] = map[string]interface{}{"status": "error", "error": err.Error()}
		} else {
			components["storage"] = map[string]interface{}{"status": "running"}
		}
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "media-transcriber",
			"version": "1.0.0",
			"role":    h.config.Role,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config

	// Tokens, API keys and allowed user ids are omitted
	sanitizedConfig := map[string]interface{}{
		"role": c.Role,
		"audio": map[string]interface{}{
			"sample_rate": c.Audio.SampleRate,
			"workers":     c.Audio.Workers,
			"ffmpeg_path": c.Audio.FFmpegPath,
		},
		"segmenter": map[string]interface{}{
			"min_silence":       c.Segmenter.MinSilence,
			"silence_margin_db": c.Segmenter.SilenceMarginDB,
			"leading_silence":   c.Segmenter.LeadingSilence,
			"frame_size":        c.Segmenter.FrameSize,
		},
		"transcription": map[string]interface{}{
			"engine":         c.Transcription.Engine,
			"endpoint":       c.Transcription.Endpoint,
			"model":          c.Transcription.Model,
			"language":       c.Transcription.Language,
			"timeout":        c.Transcription.Timeout,
			"max_retries":    c.Transcription.MaxRetries,
			"max_concurrent": c.Transcription.MaxConcurrent,
		},
		"storage": map[string]interface{}{
			"path":       c.Storage.Path,
			"in_memory":  c.Storage.InMemory,
			"object_ttl": c.Storage.ObjectTTL,
			"url":        c.Storage.URL,
		},
		"workflow": map[string]interface{}{
			"url":                 c.Workflow.URL,
			"callback_url":        c.Workflow.CallbackURL,
			"split_timeout":       c.Workflow.SplitTimeout,
			"recognition_timeout": c.Workflow.RecognitionTimeout,
			"notify_timeout":      c.Workflow.NotifyTimeout,
			"cleanup_timeout":     c.Workflow.CleanupTimeout,
			"max_attempts":        c.Workflow.MaxAttempts,
		},
		"recognition": map[string]interface{}{
			"mode":          c.Recognition.Mode,
			"lookahead":     c.Recognition.Lookahead,
			"poll_interval": c.Recognition.PollInterval,
		},
		"telegram": map[string]interface{}{
			"enabled":       c.Telegram.Enabled,
			"allow_bots":    c.Telegram.AllowBots,
			"max_file_size": c.Telegram.MaxFileSize,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}

	if h.options.Storage != nil {
		storage, err := h.options.Storage.Stats(r.Context())
		if err != nil {
			h.logger.Error("Failed to read storage stats", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to read storage stats")
			return
		}
		stats["storage"] = storage
	}

	if h.options.TranscriptionStats != nil {
		stats["transcription"] = h.options.TranscriptionStats.GetStats()
	}

	if h.options.Runs != nil {
		stats["active_runs"] = h.options.Runs.ActiveRuns()
	}

	writeJSON(w, http.StatusOK, stats)
}

type callbackRequest struct {
	RunID string `json:"run_id"`
}

// handleCallback accepts a run completion notification. The result is
// fetched and delivered in the background so the notifier is not held for
// the duration of delivery.
func (h *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	h.callbacks.Add(1)
	go func() {
		defer h.callbacks.Done()

		if err := h.options.Callbacks.ProcessCallback(h.ctx, req.RunID); err != nil {
			h.logger.Error("Failed to process callback",
				slog.String("run_id", req.RunID),
				slog.String("error", err.Error()),
			)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Line is one transcribed segment of a recognition response
type Line struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// RecognizeResponse is the body of a successful recognition request
type RecognizeResponse struct {
	Lines      []Line  `json:"lines"`
	Transcript string  `json:"transcript"`
	Duration   float64 `json:"duration_seconds"`
}

// handleRecognize transcribes the raw request body synchronously:
//
//	POST /api/v1/recognize?format=ogg[&duration=12.5]
func (h *HTTPServer) handleRecognize(w http.ResponseWriter, r *http.Request) {
	format, err := audio.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var duration float64
	if raw := r.URL.Query().Get("duration"); raw != "" {
		duration, err = strconv.ParseFloat(raw, 64)
		if err != nil || duration < 0 {
			writeError(w, http.StatusBadRequest, "duration must be a non-negative number")
			return
		}
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.options.MaxUploadSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	clip, err := audio.New(data, duration, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := recognition.Collect(h.options.Recognizer.Recognize(r.Context(), clip))
	if err != nil {
		if errors.Is(err, audio.ErrEmptyAudio) || errors.Is(err, audio.ErrConversion) ||
			errors.Is(err, audio.ErrUnsupportedFormat) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("Recognition failed",
			slog.String("format", format.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "recognition failed")
		return
	}

	writeJSON(w, http.StatusOK, buildResponse(results))
}

func buildResponse(results []transcription.Result) RecognizeResponse {
	resp := RecognizeResponse{Lines: make([]Line, 0, len(results))}

	var transcript []byte
	for _, result := range results {
		start := resp.Duration
		resp.Duration += result.DurationSeconds
		resp.Lines = append(resp.Lines, Line{Start: start, End: resp.Duration, Text: result.Text})

		if len(transcript) > 0 {
			transcript = append(transcript, '\n')
		}
		transcript = append(transcript, delivery.FormatTimerPrefix(start, resp.Duration)...)
		transcript = append(transcript, ": "...)
		transcript = append(transcript, result.Text...)
	}
	resp.Transcript = string(transcript)

	return resp
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"GET /":        "API documentation",
		"GET /health":  "Service health check",
		"GET /config":  "Get service configuration",
		"GET /stats":   "Get service statistics",
		"GET /metrics": "Prometheus metrics",
	}

	if h.options.Callbacks != nil {
		endpoints["POST /callback"] = "Run completion notification"
	}

	if h.options.Recognizer != nil {
		endpoints["POST /api/v1/recognize?format={format}"] = "Transcribe the request body"
	}

	// Mounted APIs are listed from the router
	_ = h.router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		tpl, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		for _, method := range methods {
			key := method + " " + tpl
			if _, ok := endpoints[key]; !ok {
				endpoints[key] = "Mounted API"
			}
		}
		return nil
	})

	apiDoc := map[string]interface{}{
		"service":   "Media Transcriber",
		"version":   "1.0.0",
		"endpoints": endpoints,
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
