package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/metrics"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

func newFake() *fakeTranscriber {
	return &fakeTranscriber{
		text:         "canned text",
		language:     "uk",
		minSpeech:    0.5,
		maxBodyBytes: 1 << 20,
		logger:       slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func canonicalClip(t *testing.T, seconds float64) audio.Audio {
	t.Helper()
	samples := make([]int16, int(seconds*audio.DefaultSampleRate))
	data, err := audio.EncodeWAV(samples, audio.DefaultSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return audio.Audio{Data: data, DurationSeconds: seconds, Format: audio.FormatWAV}
}

func TestFakeTranscriberServesClient(t *testing.T) {
	srv := httptest.NewServer(httpHandler(newFake()))
	defer srv.Close()

	client, err := transcription.NewHTTPClient(transcription.Config{
		Endpoint:   srv.URL + "/transcribe",
		Timeout:    5 * time.Second,
		MaxRetries: 0,
	}, metrics.NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	result, err := client.Transcribe(context.Background(), canonicalClip(t, 1))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "canned text" {
		t.Errorf("Expected canned text, got %q", result.Text)
	}

	result, err = client.Transcribe(context.Background(), canonicalClip(t, 0.1))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if !result.IsUnrecognized() {
		t.Errorf("Expected unrecognized short clip, got %q", result.Text)
	}
}

func TestFakeTranscriberRejectsMissingFile(t *testing.T) {
	srv := httptest.NewServer(httpHandler(newFake()))
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/transcribe", "text/plain", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}
