package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/skypro1111/media-transcriber/internal/delivery"
	"github.com/skypro1111/media-transcriber/internal/metrics"
	"github.com/skypro1111/media-transcriber/internal/workflow"
)

// DefaultSendRetry bounds resending a Bot API call that failed transiently
func DefaultSendRetry() workflow.RetryPolicy {
	return workflow.RetryPolicy{
		MaxAttempts:        4,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		MaxInterval:        10 * time.Second,
	}
}

// botAPI is the part of *tgbotapi.BotAPI the adapter uses
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Sink delivers transcript chunks to one chat as replies to a message.
// SendNew posts a reply, AppendToLast edits the reply in place.
type Sink struct {
	api     botAPI
	chatID  int64
	replyTo int
	retry   workflow.RetryPolicy
	metrics *metrics.Metrics
}

// NewSink creates a sink for chatID replying to message replyTo (0 for none)
func NewSink(api botAPI, chatID int64, replyTo int, m *metrics.Metrics) *Sink {
	return &Sink{api: api, chatID: chatID, replyTo: replyTo, retry: DefaultSendRetry(), metrics: m}
}

// WithRetry replaces the resend policy of the sink
func (s *Sink) WithRetry(policy workflow.RetryPolicy) *Sink {
	s.retry = policy
	return s
}

// SendNew implements delivery.Sink
func (s *Sink) SendNew(ctx context.Context, text string) (delivery.Handle, error) {
	if err := ctx.Err(); err != nil {
		return delivery.Handle{}, err
	}

	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ReplyToMessageID = s.replyTo

	sent, err := s.send(ctx, msg)
	if err != nil {
		return delivery.Handle{}, fmt.Errorf("failed to send message to chat %d: %w", s.chatID, err)
	}

	s.metrics.RecordMessageSent()
	return delivery.Handle{ID: strconv.Itoa(sent.MessageID), Text: text}, nil
}

// AppendToLast implements delivery.Sink
func (s *Sink) AppendToLast(ctx context.Context, h delivery.Handle, text string) (delivery.Handle, error) {
	if err := ctx.Err(); err != nil {
		return delivery.Handle{}, err
	}

	messageID, err := strconv.Atoi(h.ID)
	if err != nil {
		return delivery.Handle{}, fmt.Errorf("invalid message handle %q: %w", h.ID, err)
	}

	if _, err := s.send(ctx, tgbotapi.NewEditMessageText(s.chatID, messageID, text)); err != nil {
		return delivery.Handle{}, fmt.Errorf("failed to edit message %d in chat %d: %w", messageID, s.chatID, err)
	}

	s.metrics.RecordMessageEdited()
	return delivery.Handle{ID: h.ID, Text: text}, nil
}

// send calls the Bot API, repeating calls that failed transiently. Flood
// control waits as long as Telegram asks.
func (s *Sink) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	interval := s.retry.InitialInterval

	for n := 1; ; n++ {
		sent, err := s.api.Send(c)
		if err == nil {
			return sent, nil
		}

		if n >= s.retry.MaxAttempts || !transientSendError(err) {
			return tgbotapi.Message{}, err
		}

		wait := interval
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait = time.Duration(apiErr.RetryAfter) * time.Second
		}

		s.metrics.RecordDeliveryRetry()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return tgbotapi.Message{}, ctx.Err()
		}

		interval = time.Duration(float64(interval) * s.retry.BackoffCoefficient)
		if interval > s.retry.MaxInterval {
			interval = s.retry.MaxInterval
		}
	}
}

// transientSendError reports whether repeating a failed call may succeed.
// The Bot API answers requests it will never accept with 4xx codes.
func transientSendError(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return true
}
