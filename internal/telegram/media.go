package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/skypro1111/media-transcriber/internal/audio"
)

// ErrNoMedia is returned for messages without a supported attachment
var ErrNoMedia = errors.New("message has no audio or video")

// ErrFileTooLarge is returned when an attachment exceeds the download limit
var ErrFileTooLarge = errors.New("file too large")

// attachment describes the media of a message before download
type attachment struct {
	fileID   string
	duration float64
	format   audio.Format
	kind     string
}

// attachmentOf picks the media of msg. Voice notes are always OGG and video
// notes MP4; other kinds are mapped from their MIME type. Documents carry no
// duration.
func attachmentOf(msg *tgbotapi.Message) (attachment, error) {
	switch {
	case msg.Voice != nil:
		return attachment{fileID: msg.Voice.FileID, duration: float64(msg.Voice.Duration), format: audio.FormatOGG, kind: "voice"}, nil

	case msg.Audio != nil:
		format, err := audio.FormatFromMIME(msg.Audio.MimeType)
		if err != nil {
			return attachment{}, err
		}
		return attachment{fileID: msg.Audio.FileID, duration: float64(msg.Audio.Duration), format: format, kind: "audio"}, nil

	case msg.Document != nil:
		format, err := audio.FormatFromMIME(msg.Document.MimeType)
		if err != nil {
			return attachment{}, err
		}
		return attachment{fileID: msg.Document.FileID, format: format, kind: "document"}, nil

	case msg.VideoNote != nil:
		return attachment{fileID: msg.VideoNote.FileID, duration: float64(msg.VideoNote.Duration), format: audio.FormatMP4, kind: "video_note"}, nil

	case msg.Video != nil:
		format, err := audio.FormatFromMIME(msg.Video.MimeType)
		if err != nil {
			return attachment{}, err
		}
		return attachment{fileID: msg.Video.FileID, duration: float64(msg.Video.Duration), format: format, kind: "video"}, nil
	}

	return attachment{}, ErrNoMedia
}

// download fetches the attachment through the bot file API
func (b *Bot) download(ctx context.Context, att attachment) (audio.Audio, error) {
	url, err := b.api.GetFileDirectURL(att.fileID)
	if err != nil {
		return audio.Audio{}, fmt.Errorf("failed to resolve file %s: %w", att.fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return audio.Audio{}, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return audio.Audio{}, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return audio.Audio{}, fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.config.MaxFileSize+1))
	if err != nil {
		return audio.Audio{}, fmt.Errorf("failed to read file: %w", err)
	}

	if int64(len(data)) > b.config.MaxFileSize {
		return audio.Audio{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, b.config.MaxFileSize)
	}

	return audio.New(data, att.duration, att.format)
}
