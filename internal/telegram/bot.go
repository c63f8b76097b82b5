package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/delivery"
	"github.com/skypro1111/media-transcriber/internal/metrics"
	"github.com/skypro1111/media-transcriber/internal/recognition"
	"github.com/skypro1111/media-transcriber/internal/workflow"
)

const helpMessage = "This bot converts voice and video messages to text.\n\n" +
	"Send a voice note, an audio file or a video and the transcript arrives " +
	"as replies, each line stamped with the time range it covers."

// Reply texts for failures the user can act on
const (
	replyUnsupported = "Sorry, this file format is not supported."
	replyTooLarge    = "Sorry, this file is too large."
	replyFailed      = "Sorry, the transcription failed. Please try again later."
)

// Config contains bot configuration
type Config struct {
	AllowedUsers    []int64 // empty allows everyone
	AllowBots       bool
	UpdateTimeout   int // long polling timeout in seconds
	MaxFileSize     int64
	DownloadTimeout time.Duration
	Timeouts        workflow.Timeouts // durable mode step timeouts
	SendRetry       workflow.RetryPolicy
}

// Metadata is the opaque run metadata of a durable submission
type Metadata struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// Bot handles Telegram updates. With a nil tasks client it recognizes in
// process through recognizer; otherwise it submits durable runs.
type Bot struct {
	api        botAPI
	config     Config
	recognizer recognition.Service
	tasks      workflow.Client
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	wg sync.WaitGroup
}

// NewBot creates a bot
func NewBot(api botAPI, config Config, recognizer recognition.Service, tasks workflow.Client,
	logger *slog.Logger, m *metrics.Metrics) (*Bot, error) {
	if recognizer == nil && tasks == nil {
		return nil, fmt.Errorf("either a recognizer or a workflow client is required")
	}

	if config.UpdateTimeout <= 0 {
		config.UpdateTimeout = 60
	}

	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 20 << 20
	}

	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = time.Minute
	}

	if config.SendRetry.MaxAttempts < 1 {
		config.SendRetry = DefaultSendRetry()
	}

	return &Bot{
		api:        api,
		config:     config,
		recognizer: recognizer,
		tasks:      tasks,
		httpClient: &http.Client{Timeout: config.DownloadTimeout},
		logger:     logger,
		metrics:    m,
	}, nil
}

// NewBotAPI connects to the Bot API with token
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to init bot: %w", err)
	}
	return api, nil
}

// Run registers the bot commands and handles updates until ctx is done.
// Each message is handled on its own goroutine; Run waits for them on exit.
func (b *Bot) Run(ctx context.Context) error {
	commands := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "help", Description: "Show help message"},
		tgbotapi.BotCommand{Command: "start", Description: "Start the bot"},
	)
	if _, err := b.api.Request(commands); err != nil {
		b.logger.Warn("Failed to register bot commands", slog.String("error", err.Error()))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.UpdateTimeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started",
		slog.Bool("durable", b.tasks != nil),
		slog.Int("allowed_users", len(b.config.AllowedUsers)),
	)

	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Telegram bot stopping")
			return nil

		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			msg := update.Message
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleMessage(ctx, msg)
			}()
		}
	}
}

// allowed applies the sender allow-list
func (b *Bot) allowed(msg *tgbotapi.Message) bool {
	if msg.From == nil || msg.Chat == nil {
		return false
	}

	if msg.From.IsBot && !b.config.AllowBots {
		return false
	}

	return len(b.config.AllowedUsers) == 0 || slices.Contains(b.config.AllowedUsers, msg.From.ID)
}

// HandleMessage processes one incoming message
func (b *Bot) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !b.allowed(msg) {
		b.logger.Debug("Message from sender not allowed", slog.Int("message_id", msg.MessageID))
		return
	}

	logger := b.logger.With(
		slog.Int64("chat_id", msg.Chat.ID),
		slog.Int("message_id", msg.MessageID),
	)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			b.reply(msg, helpMessage, logger)
		}
		return
	}

	att, err := attachmentOf(msg)
	if errors.Is(err, ErrNoMedia) {
		return
	}
	if err != nil {
		logger.Info("Unsupported media", slog.String("error", err.Error()))
		b.reply(msg, replyUnsupported, logger)
		return
	}

	logger.Info("Processing media message",
		slog.String("kind", att.kind),
		slog.String("format", att.format.String()),
		slog.Float64("duration", att.duration),
	)

	a, err := b.download(ctx, att)
	if err != nil {
		logger.Error("Failed to download media", slog.String("error", err.Error()))
		b.replyError(msg, err, logger)
		return
	}

	if b.tasks != nil {
		b.submit(ctx, msg, a, logger)
		return
	}

	startTime := time.Now()
	sink := NewSink(b.api, msg.Chat.ID, msg.MessageID, b.metrics).WithRetry(b.config.SendRetry)

	chunker, err := delivery.Deliver(ctx, sink, b.recognizer.Recognize(ctx, a))
	if err != nil {
		logger.Error("Transcription failed",
			slog.String("error", err.Error()),
			slog.Int("messages_sent", chunker.Messages()),
		)
		b.replyError(msg, err, logger)
		return
	}

	logger.Info("Transcript delivered",
		slog.Int("messages", chunker.Messages()),
		slog.Float64("audio_seconds", chunker.Elapsed()),
		slog.Duration("elapsed", time.Since(startTime)),
	)
}

// submit starts a durable run; the transcript is delivered by ProcessCallback
func (b *Bot) submit(ctx context.Context, msg *tgbotapi.Message, a audio.Audio, logger *slog.Logger) {
	metadata, err := json.Marshal(Metadata{ChatID: msg.Chat.ID, MessageID: msg.MessageID})
	if err != nil {
		logger.Error("Failed to encode run metadata", slog.String("error", err.Error()))
		return
	}

	runID, err := b.tasks.Submit(ctx, a, string(metadata), b.config.Timeouts)
	if err != nil {
		logger.Error("Failed to submit run", slog.String("error", err.Error()))
		b.reply(msg, replyFailed, logger)
		return
	}

	logger.Info("Run submitted", slog.String("run_id", runID))
}

// ProcessCallback delivers the captured result of runID to the chat named in
// its metadata
func (b *Bot) ProcessCallback(ctx context.Context, runID string) error {
	if b.tasks == nil {
		return fmt.Errorf("bot is not running in durable mode")
	}

	result, err := b.tasks.GetResult(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get result of run %s: %w", runID, err)
	}

	// Runs submitted through the HTTP API carry no chat and are collected by polling
	if result.Metadata == "" {
		b.logger.Debug("Ignoring callback of run without chat metadata", slog.String("run_id", runID))
		return nil
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(result.Metadata), &meta); err != nil {
		return fmt.Errorf("invalid metadata of run %s: %w", runID, err)
	}

	sink := NewSink(b.api, meta.ChatID, meta.MessageID, b.metrics).WithRetry(b.config.SendRetry)
	chunker, err := delivery.DeliverAll(ctx, sink, result.RecognitionResults)
	if err != nil {
		b.metrics.RecordDeliveryFailure()
		return fmt.Errorf("failed to deliver run %s after %d messages: %w", runID, chunker.Messages(), err)
	}

	b.logger.Info("Run transcript delivered",
		slog.String("run_id", runID),
		slog.Int64("chat_id", meta.ChatID),
		slog.Int("messages", chunker.Messages()),
	)
	return nil
}

func (b *Bot) replyError(msg *tgbotapi.Message, err error, logger *slog.Logger) {
	text := replyFailed
	switch {
	case errors.Is(err, audio.ErrUnsupportedFormat), errors.Is(err, audio.ErrConversion):
		text = replyUnsupported
	case errors.Is(err, ErrFileTooLarge):
		text = replyTooLarge
	}
	b.reply(msg, text, logger)
}

func (b *Bot) reply(msg *tgbotapi.Message, text string, logger *slog.Logger) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyToMessageID = msg.MessageID

	if _, err := b.api.Send(reply); err != nil {
		logger.Error("Failed to send reply", slog.String("error", err.Error()))
	}
}
