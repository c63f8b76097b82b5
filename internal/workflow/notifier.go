package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Notifier delivers the one-shot completion callback of a run
type Notifier interface {
	Notify(ctx context.Context, runID string) error
}

// CallbackRequest is the body posted to the callback endpoint
type CallbackRequest struct {
	RunID string `json:"run_id"`
}

// HTTPNotifier posts {"run_id": id} to a fixed callback URL
type HTTPNotifier struct {
	url        string
	httpClient *http.Client
}

// NewHTTPNotifier creates a notifier for url
func NewHTTPNotifier(url string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{url: url, httpClient: &http.Client{Timeout: timeout}}
}

// Notify implements Notifier. Any non-2xx answer is an error.
func (n *HTTPNotifier) Notify(ctx context.Context, runID string) error {
	body, err := json.Marshal(CallbackRequest{RunID: runID})
	if err != nil {
		return fmt.Errorf("failed to encode callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("callback returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return nil
}

// LogNotifier only logs; used when no callback URL is configured and the
// submitter polls for the result instead
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs completions
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(ctx context.Context, runID string) error {
	n.logger.Info("Run result available", slog.String("run_id", runID))
	return nil
}
