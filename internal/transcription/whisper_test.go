package transcription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skypro1111/media-transcriber/internal/audio"
)

func newTestWhisper(t *testing.T, handler http.HandlerFunc) *WhisperEngine {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	engine, err := NewWhisperEngine(WhisperConfig{
		APIKey:   "test-key",
		BaseURL:  server.URL + "/v1/",
		Language: "uk",
	})
	if err != nil {
		t.Fatalf("NewWhisperEngine failed: %v", err)
	}

	return engine
}

func TestNewWhisperEngineRequiresCredentials(t *testing.T) {
	if _, err := NewWhisperEngine(WhisperConfig{}); err == nil {
		t.Error("Expected error without API key or base URL")
	}
}

func TestWhisperTranscribe(t *testing.T) {
	engine := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("Expected model whisper-1, got %q", got)
		}
		if got := r.FormValue("language"); got != "uk" {
			t.Errorf("Expected language uk, got %q", got)
		}
		writeText(w, "привіт")
	})

	result, err := engine.Transcribe(context.Background(), canonicalSegment(2))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "привіт" {
		t.Errorf("Expected text 'привіт', got %q", result.Text)
	}
	if result.DurationSeconds != 2 {
		t.Errorf("Expected duration 2, got %f", result.DurationSeconds)
	}
}

func TestWhisperEmptyTextIsUnrecognized(t *testing.T) {
	engine := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		writeText(w, "")
	})

	result, err := engine.Transcribe(context.Background(), canonicalSegment(1))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if !result.IsUnrecognized() {
		t.Errorf("Expected %q, got %q", Unrecognized, result.Text)
	}
}

func TestWhisperServerError(t *testing.T) {
	engine := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"backend down","type":"server_error"}}`))
	})

	_, err := engine.Transcribe(context.Background(), canonicalSegment(1))
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("Expected ErrTranscription, got %v", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected StatusError 500, got %v", err)
	}
}

func TestWhisperRejectsNonCanonical(t *testing.T) {
	engine := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Unexpected request")
	})

	_, err := engine.Transcribe(context.Background(), audio.Audio{Data: []byte("ID3"), Format: audio.FormatMP3})
	if !errors.Is(err, ErrNotCanonical) {
		t.Errorf("Expected ErrNotCanonical, got %v", err)
	}
}
