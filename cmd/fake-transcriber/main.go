// Command fake-transcriber serves a canned transcription API for local runs
// of the service without a speech recognition backend.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

type fakeTranscriber struct {
	text         string
	language     string
	delay        time.Duration
	minSpeech    float64 // shorter clips are answered with 422
	maxBodyBytes int64
	logger       *slog.Logger
}

func (f *fakeTranscriber) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(f.maxBodyBytes); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	size, err := io.Copy(io.Discard, file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	duration, _ := strconv.ParseFloat(r.FormValue("duration"), 64)

	f.logger.Info("Transcription request received",
		slog.String("request_id", r.FormValue("request_id")),
		slog.String("filename", header.Filename),
		slog.Int64("size", size),
		slog.Float64("duration", duration),
		slog.String("sample_rate", r.FormValue("sample_rate")),
		slog.String("language", r.FormValue("language")),
	)

	// Simulate processing time
	select {
	case <-time.After(f.delay):
	case <-r.Context().Done():
		return
	}

	if duration < f.minSpeech {
		http.Error(w, "no speech detected", http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcriptionResponse{
		Text:     f.text,
		Language: f.language,
		Duration: duration,
	})
}

func httpHandler(f *fakeTranscriber) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/transcribe", f.handleTranscribe).Methods(http.MethodPost)
	return router
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	text := flag.String("text", "Це тестова транскрипція аудіо фрагменту з українською мовою", "Text returned for every segment")
	language := flag.String("language", "uk", "Reported language")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	minSpeech := flag.Float64("min-speech", 0.3, "Segments shorter than this many seconds are unrecognized")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	f := &fakeTranscriber{
		text:         *text,
		language:     *language,
		delay:        *delay,
		minSpeech:    *minSpeech,
		maxBodyBytes: 32 << 20,
		logger:       logger,
	}

	logger.Info("Fake transcription server starting",
		slog.String("address", *addr),
		slog.String("endpoint", "/transcribe"),
	)

	if err := http.ListenAndServe(*addr, httpHandler(f)); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
