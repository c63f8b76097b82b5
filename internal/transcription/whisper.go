package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/skypro1111/media-transcriber/internal/audio"
)

// WhisperConfig configures the OpenAI-compatible Whisper engine
type WhisperConfig struct {
	APIKey     string
	BaseURL    string // optional, for self-hosted OpenAI-compatible servers
	Model      string
	Language   string
	SampleRate int
}

// WhisperEngine transcribes segments with the OpenAI audio transcription API.
// It does not retry; retries belong to the caller.
type WhisperEngine struct {
	client     *openai.Client
	model      string
	language   string
	sampleRate int
}

// NewWhisperEngine creates a Whisper engine
func NewWhisperEngine(config WhisperConfig) (*WhisperEngine, error) {
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	}

	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	if config.SampleRate <= 0 {
		config.SampleRate = audio.DefaultSampleRate
	}

	return &WhisperEngine{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      config.Model,
		language:   config.Language,
		sampleRate: config.SampleRate,
	}, nil
}

// Transcribe sends one canonical WAV segment to the API
func (w *WhisperEngine) Transcribe(ctx context.Context, a audio.Audio) (Result, error) {
	if err := checkCanonical(a, w.sampleRate); err != nil {
		return Result{}, err
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: uuid.NewString() + ".wav",
		Reader:   bytes.NewReader(a.Data),
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w: %w", ErrTranscription, classifyOpenAIError(err))
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		text = Unrecognized
	}

	return Result{Text: text, DurationSeconds: a.DurationSeconds}, nil
}

// classifyOpenAIError converts API errors into StatusError so callers can
// inspect the status code the same way for both engines
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Body: body}
	}

	return err
}
