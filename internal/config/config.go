package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets and endpoints of the YAML file
const (
	EnvTelegramToken         = "TRANSCRIBER_TELEGRAM_TOKEN"
	EnvTranscriptionAPIKey   = "TRANSCRIBER_TRANSCRIPTION_API_KEY"
	EnvTranscriptionEndpoint = "TRANSCRIBER_TRANSCRIPTION_ENDPOINT"
	EnvWorkflowCallbackURL   = "TRANSCRIBER_WORKFLOW_CALLBACK_URL"
	EnvStoragePath           = "TRANSCRIBER_STORAGE_PATH"
)

// Process roles
const (
	RoleAll    = "all"    // bot, workflow worker and HTTP API in one process
	RoleBot    = "bot"    // chat bot; durable runs go to a remote worker
	RoleWorker = "worker" // workflow worker with object store and run API

	// RoleRecognizer transcribes segments for a remote worker, reading them
	// from the worker's object store
	RoleRecognizer = "recognizer"
)

// Recognition modes
const (
	ModeSync    = "sync"
	ModeDurable = "durable"
)

// Config represents the complete service configuration
type Config struct {
	Role          string              `yaml:"role"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Storage       StorageConfig       `yaml:"storage"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Recognition   RecognitionConfig   `yaml:"recognition"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio conversion parameters
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"` // canonical rate for splitting and transcription
	Workers    int    `yaml:"workers"`     // CPU bound worker pool size
	FFmpegPath string `yaml:"ffmpeg_path"`
	TempDir    string `yaml:"temp_dir"`
}

// SegmenterConfig contains silence splitting parameters
type SegmenterConfig struct {
	MinSilence      int     `yaml:"min_silence"`       // milliseconds
	SilenceMarginDB float64 `yaml:"silence_margin_db"` // below overall loudness
	LeadingSilence  int     `yaml:"leading_silence"`   // milliseconds
	FrameSize       int     `yaml:"frame_size"`        // milliseconds
}

// TranscriptionConfig contains transcription engine configuration
type TranscriptionConfig struct {
	Engine        string `yaml:"engine"` // http | whisper
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// StorageConfig contains transient object store configuration
type StorageConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	ObjectTTL  int    `yaml:"object_ttl"`  // seconds, 0 disables expiry
	GCInterval int    `yaml:"gc_interval"` // seconds
	URL        string `yaml:"url"`         // remote object store, bot and recognizer roles
}

// WorkflowConfig contains durable run configuration. Timeouts are in seconds.
type WorkflowConfig struct {
	URL                string  `yaml:"url"` // remote run API, bot role only
	CallbackURL        string  `yaml:"callback_url"`
	SplitTimeout       int     `yaml:"split_timeout"`
	RecognitionTimeout int     `yaml:"recognition_timeout"`
	NotifyTimeout      int     `yaml:"notify_timeout"`
	CleanupTimeout     int     `yaml:"cleanup_timeout"`
	MaxAttempts        int     `yaml:"max_attempts"`
	InitialInterval    float64 `yaml:"initial_interval"`
	BackoffCoefficient float64 `yaml:"backoff_coefficient"`
	MaxInterval        float64 `yaml:"max_interval"`
	RunRetention       int     `yaml:"run_retention"`  // seconds
	SweepInterval      int     `yaml:"sweep_interval"` // seconds

	// RecognitionWorkers are base URLs of recognizer processes. When set,
	// segments are transcribed there instead of in the worker.
	RecognitionWorkers []string `yaml:"recognition_workers"`
}

// RecognitionConfig selects how the bot recognizes clips
type RecognitionConfig struct {
	Mode         string `yaml:"mode"`
	Lookahead    int    `yaml:"lookahead"`
	PollInterval int    `yaml:"poll_interval"` // milliseconds
}

// TelegramConfig contains chat bot configuration
type TelegramConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Token         string  `yaml:"token"`
	AllowedUsers  []int64 `yaml:"allowed_users"`
	AllowBots     bool    `yaml:"allow_bots"`
	UpdateTimeout int     `yaml:"update_timeout"` // seconds
	MaxFileSize   int64   `yaml:"max_file_size"`  // bytes
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the optional .env file of the working directory and the YAML
// configuration file at path
func Load(path string) (*Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile reads envFile into the environment (a missing file is not
// an error, set variables are never overwritten), parses the configuration
// file, applies environment overrides and validates the result
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		EnvTelegramToken:         &c.Telegram.Token,
		EnvTranscriptionAPIKey:   &c.Transcription.APIKey,
		EnvTranscriptionEndpoint: &c.Transcription.Endpoint,
		EnvWorkflowCallbackURL:   &c.Workflow.CallbackURL,
		EnvStoragePath:           &c.Storage.Path,
	}

	for name, field := range overrides {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			*field = value
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	switch c.Role {
	case RoleAll, RoleBot, RoleWorker, RoleRecognizer:
	default:
		return fmt.Errorf("role must be one of [all, bot, worker, recognizer], got '%s'", c.Role)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Storage.Validate(c.Role); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Workflow.Validate(c.Role); err != nil {
		return fmt.Errorf("workflow config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if (c.Role == RoleWorker || c.Role == RoleRecognizer) && !c.HTTP.Enabled {
		return fmt.Errorf("http must be enabled for the %s role", c.Role)
	}

	if c.Role == RoleRecognizer && c.Telegram.Enabled {
		return fmt.Errorf("telegram cannot be enabled for the recognizer role")
	}

	if c.Role == RoleBot && !c.Telegram.Enabled {
		return fmt.Errorf("telegram must be enabled for the bot role")
	}

	// Durable chats are answered from the run callback
	if c.Recognition.Mode == ModeDurable && c.Telegram.Enabled && (c.Role == RoleAll || c.Role == RoleBot) {
		if c.Workflow.CallbackURL == "" || !c.HTTP.Enabled {
			return fmt.Errorf("durable mode with telegram requires workflow.callback_url and http enabled")
		}
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", a.Workers)
	}

	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.MinSilence <= 0 {
		return fmt.Errorf("min_silence must be positive, got %d", s.MinSilence)
	}

	if s.SilenceMarginDB <= 0 {
		return fmt.Errorf("silence_margin_db must be positive, got %f", s.SilenceMarginDB)
	}

	if s.LeadingSilence < 0 {
		return fmt.Errorf("leading_silence cannot be negative, got %d", s.LeadingSilence)
	}

	if s.FrameSize <= 0 || s.FrameSize > s.MinSilence {
		return fmt.Errorf("frame_size must be between 1 and min_silence (%d), got %d", s.MinSilence, s.FrameSize)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Engine {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http engine")
		}
	case "whisper":
		if t.APIKey == "" && t.Endpoint == "" {
			return fmt.Errorf("api_key or endpoint is required for the whisper engine")
		}
	default:
		return fmt.Errorf("engine must be 'http' or 'whisper', got '%s'", t.Engine)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates storage configuration for role
func (s *StorageConfig) Validate(role string) error {
	if role == RoleBot {
		return nil
	}

	if role == RoleRecognizer {
		if s.URL == "" {
			return fmt.Errorf("url is required for the recognizer role")
		}
		return nil
	}

	if s.Path == "" && !s.InMemory {
		return fmt.Errorf("path cannot be empty unless in_memory is set")
	}

	if s.ObjectTTL < 0 {
		return fmt.Errorf("object_ttl cannot be negative, got %d", s.ObjectTTL)
	}

	if s.GCInterval < 0 {
		return fmt.Errorf("gc_interval cannot be negative, got %d", s.GCInterval)
	}

	return nil
}

// Validate validates workflow configuration for role
func (w *WorkflowConfig) Validate(role string) error {
	timeouts := map[string]int{
		"split_timeout":       w.SplitTimeout,
		"recognition_timeout": w.RecognitionTimeout,
		"notify_timeout":      w.NotifyTimeout,
		"cleanup_timeout":     w.CleanupTimeout,
	}
	for name, value := range timeouts {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1 second, got %d", name, value)
		}
	}

	if w.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", w.MaxAttempts)
	}

	if w.InitialInterval < 0 {
		return fmt.Errorf("initial_interval cannot be negative, got %f", w.InitialInterval)
	}

	if w.BackoffCoefficient < 1 {
		return fmt.Errorf("backoff_coefficient must be at least 1, got %f", w.BackoffCoefficient)
	}

	if w.MaxInterval < w.InitialInterval {
		return fmt.Errorf("max_interval (%f) must not be below initial_interval (%f)", w.MaxInterval, w.InitialInterval)
	}

	if w.RunRetention < 0 || w.SweepInterval < 0 {
		return fmt.Errorf("run_retention and sweep_interval cannot be negative")
	}

	if role == RoleBot && (w.URL == "" || w.CallbackURL == "") {
		return fmt.Errorf("url and callback_url are required for the bot role")
	}

	for _, worker := range w.RecognitionWorkers {
		if _, err := url.ParseRequestURI(worker); err != nil {
			return fmt.Errorf("invalid recognition worker URL '%s'", worker)
		}
	}

	return nil
}

// Validate validates recognition configuration
func (r *RecognitionConfig) Validate() error {
	if r.Mode != ModeSync && r.Mode != ModeDurable {
		return fmt.Errorf("mode must be 'sync' or 'durable', got '%s'", r.Mode)
	}

	if r.Lookahead < 1 {
		return fmt.Errorf("lookahead must be at least 1, got %d", r.Lookahead)
	}

	if r.Mode == ModeDurable && r.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 ms in durable mode, got %d", r.PollInterval)
	}

	return nil
}

// Validate validates telegram configuration
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	if t.Token == "" {
		return fmt.Errorf("token cannot be empty when telegram is enabled")
	}

	if t.UpdateTimeout < 0 {
		return fmt.Errorf("update_timeout cannot be negative, got %d", t.UpdateTimeout)
	}

	if t.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size cannot be negative, got %d", t.MaxFileSize)
	}

	return nil
}

// Validate validates logging configuration. Output is stdout, stderr or a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetMinSilence returns the minimum silence as a time.Duration
func (s *SegmenterConfig) GetMinSilence() time.Duration {
	return time.Duration(s.MinSilence) * time.Millisecond
}

// GetLeadingSilence returns the kept leading silence as a time.Duration
func (s *SegmenterConfig) GetLeadingSilence() time.Duration {
	return time.Duration(s.LeadingSilence) * time.Millisecond
}

// GetFrameSize returns the analysis frame as a time.Duration
func (s *SegmenterConfig) GetFrameSize() time.Duration {
	return time.Duration(s.FrameSize) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetObjectTTL returns the object expiry as a time.Duration
func (s *StorageConfig) GetObjectTTL() time.Duration {
	return time.Duration(s.ObjectTTL) * time.Second
}

// GetGCInterval returns the value log GC interval as a time.Duration
func (s *StorageConfig) GetGCInterval() time.Duration {
	return time.Duration(s.GCInterval) * time.Second
}

// GetSplitTimeout returns the split timeout as a time.Duration
func (w *WorkflowConfig) GetSplitTimeout() time.Duration {
	return time.Duration(w.SplitTimeout) * time.Second
}

// GetRecognitionTimeout returns the per-segment recognition timeout as a time.Duration
func (w *WorkflowConfig) GetRecognitionTimeout() time.Duration {
	return time.Duration(w.RecognitionTimeout) * time.Second
}

// GetNotifyTimeout returns the notification timeout as a time.Duration
func (w *WorkflowConfig) GetNotifyTimeout() time.Duration {
	return time.Duration(w.NotifyTimeout) * time.Second
}

// GetCleanupTimeout returns the per-object cleanup timeout as a time.Duration
func (w *WorkflowConfig) GetCleanupTimeout() time.Duration {
	return time.Duration(w.CleanupTimeout) * time.Second
}

// GetInitialInterval returns the first retry delay as a time.Duration
func (w *WorkflowConfig) GetInitialInterval() time.Duration {
	return time.Duration(w.InitialInterval * float64(time.Second))
}

// GetMaxInterval returns the longest retry delay as a time.Duration
func (w *WorkflowConfig) GetMaxInterval() time.Duration {
	return time.Duration(w.MaxInterval * float64(time.Second))
}

// GetRunRetention returns how long finished runs are kept as a time.Duration
func (w *WorkflowConfig) GetRunRetention() time.Duration {
	return time.Duration(w.RunRetention) * time.Second
}

// GetSweepInterval returns the run sweep interval as a time.Duration
func (w *WorkflowConfig) GetSweepInterval() time.Duration {
	return time.Duration(w.SweepInterval) * time.Second
}

// GetPollInterval returns the durable result poll interval as a time.Duration
func (r *RecognitionConfig) GetPollInterval() time.Duration {
	return time.Duration(r.PollInterval) * time.Millisecond
}
