package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/config"
	"github.com/skypro1111/media-transcriber/internal/metrics"
	"github.com/skypro1111/media-transcriber/internal/objectstore"
	"github.com/skypro1111/media-transcriber/internal/recognition"
	"github.com/skypro1111/media-transcriber/internal/server"
	"github.com/skypro1111/media-transcriber/internal/telegram"
	"github.com/skypro1111/media-transcriber/internal/transcription"
	"github.com/skypro1111/media-transcriber/internal/workflow"
)

// remoteTimeout bounds calls from the bot role to the worker
const remoteTimeout = 2 * time.Minute

// app holds the components selected by the configured role
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	pool        *audio.Pool
	db          *badger.DB
	transcriber *transcription.HTTPClient
	engine      *workflow.Engine
	bot         *telegram.Bot
	httpServer  *server.HTTPServer

	// done is closed when the bot update loop exits
	done chan struct{}
}

func newApp(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: m, done: make(chan struct{})}

	if err := a.build(); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *app) build() error {
	cfg := a.cfg
	local := cfg.Role == config.RoleAll || cfg.Role == config.RoleWorker
	recognizerRole := cfg.Role == config.RoleRecognizer
	durable := cfg.Recognition.Mode == config.ModeDurable

	var (
		converter audio.Converter
		splitter  audio.Segmenter
		engine    transcription.Engine
		objects   objectstore.Store
		stats     server.StatsProvider
		client    workflow.Client
	)

	// Audio processing and transcription run wherever segments are recognized
	if local || recognizerRole || !durable {
		a.pool = audio.NewPool(cfg.Audio.Workers)

		ffmpeg := audio.NewFFmpegConverter(audio.ConverterConfig{
			FFmpegPath: cfg.Audio.FFmpegPath,
			SampleRate: cfg.Audio.SampleRate,
			TempDir:    cfg.Audio.TempDir,
		}, a.pool, a.logger.With(slog.String("component", "converter")), a.metrics)
		converter = ffmpeg

		var err error
		splitter, err = audio.NewSilenceSplitter(audio.SplitConfig{
			MinSilence:      cfg.Segmenter.GetMinSilence(),
			SilenceMarginDB: cfg.Segmenter.SilenceMarginDB,
			LeadingSilence:  cfg.Segmenter.GetLeadingSilence(),
			FrameSize:       cfg.Segmenter.GetFrameSize(),
		}, ffmpeg, a.pool, a.logger.With(slog.String("component", "segmenter")), a.metrics)
		if err != nil {
			return err
		}

		engine, err = a.buildTranscriber()
		if err != nil {
			return err
		}
	}

	timeouts := workflow.Timeouts{
		Split:     cfg.Workflow.GetSplitTimeout(),
		Recognize: cfg.Workflow.GetRecognitionTimeout(),
		Notify:    cfg.Workflow.GetNotifyTimeout(),
		Cleanup:   cfg.Workflow.GetCleanupTimeout(),
	}

	var routes []server.RouteRegistrar

	if local {
		var runs workflow.RunStore
		if cfg.Storage.InMemory {
			memory := objectstore.NewMemoryStore()
			stats = memory
			objects = objectstore.WithMetrics(memory, a.metrics)
			runs = workflow.NewMemoryRunStore()
		} else {
			db, err := objectstore.OpenBadger(objectstore.BadgerConfig{Path: cfg.Storage.Path}, a.logger)
			if err != nil {
				return err
			}
			a.db = db

			badgerStore := objectstore.NewBadgerStore(db, cfg.Storage.GetObjectTTL())
			stats = badgerStore
			objects = objectstore.WithMetrics(badgerStore, a.metrics)
			runs = workflow.NewBadgerRunStore(db, cfg.Workflow.GetRunRetention())
		}
		audioStore := objectstore.NewAudioStore(objects)

		var notifier workflow.Notifier
		if cfg.Workflow.CallbackURL != "" {
			notifier = workflow.NewHTTPNotifier(cfg.Workflow.CallbackURL, cfg.Workflow.GetNotifyTimeout())
		} else {
			notifier = workflow.NewLogNotifier(a.logger)
		}

		var activities workflow.Activities = workflow.NewLocalActivities(audioStore, splitter, converter, engine, notifier,
			a.logger.With(slog.String("component", "activities")))

		if len(cfg.Workflow.RecognitionWorkers) > 0 {
			remote, err := workflow.NewRemoteActivities(activities, cfg.Workflow.RecognitionWorkers,
				a.logger.With(slog.String("component", "activities")))
			if err != nil {
				return err
			}
			activities = remote
		}

		var err error
		a.engine, err = workflow.NewEngine(runs, activities,
			workflow.EngineConfig{
				RetryPolicy: workflow.RetryPolicy{
					MaxAttempts:        cfg.Workflow.MaxAttempts,
					InitialInterval:    cfg.Workflow.GetInitialInterval(),
					BackoffCoefficient: cfg.Workflow.BackoffCoefficient,
					MaxInterval:        cfg.Workflow.GetMaxInterval(),
				},
				RunRetention:  cfg.Workflow.GetRunRetention(),
				SweepInterval: cfg.Workflow.GetSweepInterval(),
			}, a.logger.With(slog.String("component", "workflow")), a.metrics)
		if err != nil {
			return err
		}

		client = workflow.NewLocalClient(audioStore, a.engine)
		routes = append(routes,
			objectstore.NewHandler(objects, objectstore.DefaultMaxObjectSize, a.logger),
			workflow.NewHandler(a.engine, a.logger),
		)
	} else if recognizerRole {
		remote, err := objectstore.NewHTTPStore(cfg.Storage.URL, remoteTimeout)
		if err != nil {
			return err
		}
		objects = objectstore.WithMetrics(remote, a.metrics)

		activities := workflow.NewLocalActivities(objectstore.NewAudioStore(objects), splitter, converter, engine, nil,
			a.logger.With(slog.String("component", "activities")))
		routes = append(routes, workflow.NewActivityHandler(activities, a.logger))
	} else if durable {
		storageURL := cfg.Storage.URL
		if storageURL == "" {
			storageURL = cfg.Workflow.URL
		}

		remote, err := objectstore.NewHTTPStore(storageURL, remoteTimeout)
		if err != nil {
			return err
		}
		objects = objectstore.WithMetrics(remote, a.metrics)

		client, err = workflow.NewHTTPClient(cfg.Workflow.URL, objectstore.NewAudioStore(objects), remoteTimeout)
		if err != nil {
			return err
		}
	}

	var recognizer recognition.Service
	if durable && client != nil {
		recognizer = recognition.NewDurable(client, timeouts, cfg.Recognition.GetPollInterval(),
			a.logger.With(slog.String("component", "recognition")))
	} else {
		recognizer = recognition.NewPipeline(splitter, converter, engine, a.pool, cfg.Recognition.Lookahead,
			a.logger.With(slog.String("component", "recognition")))
	}

	if cfg.Telegram.Enabled && (cfg.Role == config.RoleAll || cfg.Role == config.RoleBot) {
		api, err := telegram.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return err
		}

		botConfig := telegram.Config{
			AllowedUsers:  cfg.Telegram.AllowedUsers,
			AllowBots:     cfg.Telegram.AllowBots,
			UpdateTimeout: cfg.Telegram.UpdateTimeout,
			MaxFileSize:   cfg.Telegram.MaxFileSize,
			Timeouts:      timeouts,
		}

		// Durable chats submit fire-and-forget and are answered from the callback
		if durable {
			a.bot, err = telegram.NewBot(api, botConfig, nil, client, a.logger.With(slog.String("component", "telegram")), a.metrics)
		} else {
			a.bot, err = telegram.NewBot(api, botConfig, recognizer, nil, a.logger.With(slog.String("component", "telegram")), a.metrics)
		}
		if err != nil {
			return err
		}
	}

	if cfg.HTTP.Enabled {
		options := server.Options{
			Recognizer: recognizer,
			Routes:     routes,
		}
		if stats != nil {
			options.Storage = stats
		}
		if a.transcriber != nil {
			options.TranscriptionStats = a.transcriber
		}
		if a.engine != nil {
			options.Runs = a.engine
		}
		if a.bot != nil && durable {
			options.Callbacks = a.bot
		}

		a.httpServer = server.NewHTTPServer(cfg.HTTP, cfg, options, a.logger.With(slog.String("component", "http")), a.metrics)
	}

	return nil
}

// buildTranscriber creates the configured transcription engine
func (a *app) buildTranscriber() (transcription.Engine, error) {
	cfg := a.cfg.Transcription
	logger := a.logger.With(slog.String("component", "transcription"))

	switch strings.ToLower(cfg.Engine) {
	case "whisper":
		whisper, err := transcription.NewWhisperEngine(transcription.WhisperConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.Endpoint,
			Model:      cfg.Model,
			Language:   cfg.Language,
			SampleRate: a.cfg.Audio.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create whisper engine: %w", err)
		}
		return transcription.NewInstrumented(whisper, a.metrics, logger), nil

	default:
		client, err := transcription.NewHTTPClient(transcription.Config{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Language:      cfg.Language,
			SampleRate:    a.cfg.Audio.SampleRate,
			Timeout:       cfg.GetTimeoutDuration(),
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrent,
		}, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create transcription client: %w", err)
		}
		a.transcriber = client
		return transcription.NewInstrumented(client, a.metrics, logger), nil
	}
}

// start resumes unfinished runs and starts the servers
func (a *app) start(ctx context.Context) error {
	if a.db != nil {
		go objectstore.RunValueLogGC(ctx, a.db, a.cfg.Storage.GetGCInterval(), a.logger)
	}

	if a.engine != nil {
		resumed, err := a.engine.Resume(ctx)
		if err != nil {
			return fmt.Errorf("failed to resume runs: %w", err)
		}
		a.logger.Info("Workflow engine started", slog.Int("resumed_runs", resumed))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return err
		}
	}

	if a.bot != nil {
		go func() {
			defer close(a.done)
			if err := a.bot.Run(ctx); err != nil {
				a.logger.Error("Telegram bot error", slog.String("error", err.Error()))
			}
		}()
	}

	return nil
}

// shutdown stops intake first, then running work, then storage
func (a *app) shutdown(ctx context.Context, cancel context.CancelFunc) {
	// Stops the bot update loop and the value log GC
	cancel()

	if a.bot != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			a.logger.Warn("Timed out waiting for the Telegram bot")
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	a.close()
}

// close releases resources. Runs stopped here resume on the next start.
func (a *app) close() {
	if a.engine != nil {
		a.engine.Stop()
	}

	if a.transcriber != nil {
		stats := a.transcriber.GetStats()
		a.logger.Info("Final transcription statistics",
			slog.Uint64("total_requests", stats.TotalRequests),
			slog.Uint64("success_requests", stats.SuccessRequests),
			slog.Uint64("failed_requests", stats.FailedRequests),
			slog.Uint64("unrecognized", stats.Unrecognized),
		)
	}

	if a.pool != nil {
		a.pool.Close()
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Error closing database", slog.String("error", err.Error()))
		}
	}
}
